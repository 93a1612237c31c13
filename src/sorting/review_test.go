package sorting

import (
	"errors"
	"testing"
	"time"

	"waste-vision-go/src/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// 共享缓存的内存库，连接池内多个连接看到同一份数据
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&models.ClassificationRecord{},
		&models.ReviewRecord{},
		&models.Device{},
	); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

func insertRecord(t *testing.T, db *gorm.DB, lowConfidence bool) models.ClassificationRecord {
	t.Helper()
	record := models.ClassificationRecord{
		DeviceID:      "device-1",
		CategoryID:    "other",
		Label:         "其他垃圾",
		Confidence:    0.4,
		LowConfidence: lowConfidence,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("写入分类记录失败: %v", err)
	}
	return record
}

func TestCreateReview(t *testing.T) {
	db := newTestDB(t)
	record := insertRecord(t, db, true)

	review, err := createReview(db, ReviewRequest{
		RecordID:   record.ID,
		Reviewer:   "inspector-1",
		CategoryID: "recyclable",
		Note:       "实为可回收物",
	})
	if err != nil {
		t.Fatalf("createReview() error = %v", err)
	}
	if review.ID == 0 || review.RecordID != record.ID {
		t.Errorf("review = %+v", review)
	}

	var saved models.ReviewRecord
	if err := db.First(&saved, review.ID).Error; err != nil {
		t.Fatalf("查询复核记录失败: %v", err)
	}
	if saved.CategoryID != "recyclable" || saved.Reviewer != "inspector-1" {
		t.Errorf("saved = %+v", saved)
	}
}

func TestCreateReviewRecordNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := createReview(db, ReviewRequest{RecordID: 999, CategoryID: "organic"})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("createReview() error = %v, want ErrRecordNotFound", err)
	}
}

func TestPendingReviewRecords(t *testing.T) {
	db := newTestDB(t)

	pendingRec := insertRecord(t, db, true)
	reviewedRec := insertRecord(t, db, true)
	insertRecord(t, db, false) // 高置信记录不进复核队列

	if _, err := createReview(db, ReviewRequest{
		RecordID:   reviewedRec.ID,
		CategoryID: "organic",
	}); err != nil {
		t.Fatalf("createReview() error = %v", err)
	}

	records, err := pendingReviewRecords(db)
	if err != nil {
		t.Fatalf("pendingReviewRecords() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("待复核记录数 = %d, want 1", len(records))
	}
	if records[0].ID != pendingRec.ID {
		t.Errorf("待复核记录ID = %d, want %d", records[0].ID, pendingRec.ID)
	}
}

func TestTouchDevice(t *testing.T) {
	db := newTestDB(t)

	if err := touchDevice(db, "device-7"); err != nil {
		t.Fatalf("touchDevice() error = %v", err)
	}

	var device models.Device
	if err := db.Where("device_id = ?", "device-7").First(&device).Error; err != nil {
		t.Fatalf("查询设备失败: %v", err)
	}
	if !device.Enabled {
		t.Error("新登记的设备应为启用状态")
	}
	firstSeen := device.LastSeenAt

	time.Sleep(10 * time.Millisecond)
	if err := touchDevice(db, "device-7"); err != nil {
		t.Fatalf("touchDevice() error = %v", err)
	}

	var count int64
	db.Model(&models.Device{}).Count(&count)
	if count != 1 {
		t.Errorf("设备数 = %d, want 1", count)
	}

	if err := db.Where("device_id = ?", "device-7").First(&device).Error; err != nil {
		t.Fatalf("查询设备失败: %v", err)
	}
	if !device.LastSeenAt.After(firstSeen) {
		t.Errorf("LastSeenAt未刷新: %v -> %v", firstSeen, device.LastSeenAt)
	}

	// 空设备ID静默跳过
	if err := touchDevice(db, ""); err != nil {
		t.Errorf("touchDevice(\"\") error = %v", err)
	}
}
