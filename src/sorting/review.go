package sorting

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"waste-vision-go/src/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ReviewRequest 人工复核请求
type ReviewRequest struct {
	RecordID   uint   `json:"record_id" binding:"required"`   // 被复核的分类记录ID
	Reviewer   string `json:"reviewer"`                       // 复核人
	CategoryID string `json:"category_id" binding:"required"` // 复核确认的类别
	Note       string `json:"note"`                           // 备注
}

// handleReviewPost 提交一条低置信记录的人工复核结果
func (s *DefaultSortingService) handleReviewPost(c *gin.Context) {
	s.addCORSHeaders(c)

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, fmt.Sprintf("复核请求解析失败: %v", err))
		return
	}

	review, err := createReview(s.db, req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(c, http.StatusNotFound, fmt.Sprintf("分类记录 %d 不存在", req.RecordID))
			return
		}
		s.logger.Warn(fmt.Sprintf("保存复核记录失败: %v", err))
		s.respondError(c, http.StatusInternalServerError, "保存复核记录失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"review_id": review.ID,
	})
}

// handleReviewPending 列出待人工复核的低置信分类记录
func (s *DefaultSortingService) handleReviewPending(c *gin.Context) {
	s.addCORSHeaders(c)

	records, err := pendingReviewRecords(s.db)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("查询待复核记录失败: %v", err))
		s.respondError(c, http.StatusInternalServerError, "查询待复核记录失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"records": records,
	})
}

// createReview 校验记录存在后写入复核结果
func createReview(db *gorm.DB, req ReviewRequest) (*models.ReviewRecord, error) {
	var record models.ClassificationRecord
	if err := db.First(&record, req.RecordID).Error; err != nil {
		return nil, err
	}

	review := models.ReviewRecord{
		RecordID:   record.ID,
		Reviewer:   req.Reviewer,
		CategoryID: req.CategoryID,
		Note:       req.Note,
	}
	if err := db.Create(&review).Error; err != nil {
		return nil, err
	}
	return &review, nil
}

// pendingReviewRecords 查询低置信且尚未复核的记录，按时间先后排序
func pendingReviewRecords(db *gorm.DB) ([]models.ClassificationRecord, error) {
	var records []models.ClassificationRecord
	reviewed := db.Model(&models.ReviewRecord{}).Select("record_id")
	err := db.
		Where("low_confidence = ?", true).
		Where("id NOT IN (?)", reviewed).
		Order("created_at").
		Find(&records).Error
	return records, err
}

// touchDevice 按设备ID登记设备并刷新最后活跃时间
func touchDevice(db *gorm.DB, deviceID string) error {
	if deviceID == "" {
		return nil
	}

	var device models.Device
	err := db.
		Where(models.Device{DeviceID: deviceID}).
		Attrs(models.Device{Enabled: true}).
		FirstOrCreate(&device).Error
	if err != nil {
		return err
	}
	return db.Model(&device).Update("last_seen_at", time.Now()).Error
}
