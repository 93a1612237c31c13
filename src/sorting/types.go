package sorting

import (
	"waste-vision-go/src/core/types"
)

// ClassifyRequest 分类请求结构（从multipart表单解析）
type ClassifyRequest struct {
	Image     []byte // 图片数据（从文件字段获取）
	Format    string // 探测出的图片格式
	DeviceID  string // 设备ID（从请求头获取）
	ClientID  string // 客户端ID（从请求头获取）
	ImagePath string // 落盘后的图片路径
}

// ClassifyResponse 分类标准响应结构
type ClassifyResponse struct {
	Success bool                          `json:"success"`           // 是否成功
	Result  *types.ClassificationDecision `json:"result,omitempty"`  // 分类决策（成功时）
	Message string                        `json:"message,omitempty"` // 错误信息（失败时）
}

// AuthVerifyResult 认证验证结果
type AuthVerifyResult struct {
	IsValid  bool
	DeviceID string
}
