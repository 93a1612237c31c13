package models

import (
	"time"

	"gorm.io/datatypes"
)

// 分类记录（审计用），每次成功的分类决策保存一条
type ClassificationRecord struct {
	ID            uint   `gorm:"primaryKey"`
	DeviceID      string `gorm:"index"`
	ClientID      string `gorm:"index"`
	CategoryID    string `gorm:"index"`
	Label         string
	Confidence    float64
	LowConfidence bool `gorm:"index"` // 低置信记录供人工复核筛选
	CNNScores     datatypes.JSON
	EmbedScores   datatypes.JSON
	ElapsedMs     int64
	ImagePath     string // 落盘后的图片路径，未落盘时为空
	CreatedAt     time.Time
}

// 人工复核结果，关联一条低置信分类记录
type ReviewRecord struct {
	ID         uint `gorm:"primaryKey"`
	RecordID   uint `gorm:"index;not null"`
	Reviewer   string
	CategoryID string // 复核后确认的类别
	Note       string `gorm:"type:text"`
	CreatedAt  time.Time
}

// 接入设备
type Device struct {
	ID         uint   `gorm:"primaryKey"`
	DeviceID   string `gorm:"uniqueIndex;not null"`
	Name       string
	Location   string
	Enabled    bool
	LastSeenAt time.Time
}
