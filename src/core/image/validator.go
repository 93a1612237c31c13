package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"
)

// SecurityValidator 图片安全验证器，在HTTP边界上先于预处理执行
type SecurityValidator struct {
	config *configs.SecurityConfig
	logger *utils.Logger
}

// NewSecurityValidator 创建新的图片安全验证器
func NewSecurityValidator(config *configs.SecurityConfig, logger *utils.Logger) *SecurityValidator {
	return &SecurityValidator{
		config: config,
		logger: logger,
	}
}

// 图片格式魔数签名
var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46}, // RIFF，需要进一步检查WEBP标识
	"bmp":  {0x42, 0x4D},
}

// Validate 验证图片数据
func (v *SecurityValidator) Validate(imageData ImageData) ValidationResult {
	result := ValidationResult{IsValid: false}

	imageBytes := imageData.Raw
	if len(imageBytes) == 0 && imageData.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(imageData.Data)
		if err != nil {
			result.Error = &types.InvalidImageError{Reason: fmt.Sprintf("base64解码失败: %v", err)}
			result.SecurityRisk = "无效的base64数据"
			return result
		}
		imageBytes = decoded
	}
	if len(imageBytes) == 0 {
		result.Error = &types.InvalidImageError{Reason: "缺少图片数据"}
		return result
	}

	// 1. 基础大小检查
	if int64(len(imageBytes)) > v.config.MaxFileSize {
		result.Error = &types.InvalidImageError{Reason: fmt.Sprintf("文件大小超限: %d bytes", len(imageBytes))}
		result.SecurityRisk = "文件过大，可能是DoS攻击"
		v.logger.Warn("检测到超大文件", map[string]interface{}{
			"size":     len(imageBytes),
			"max_size": v.config.MaxFileSize,
		})
		return result
	}

	// 2. 格式支持检查
	if imageData.Format != "" && !v.isFormatAllowed(imageData.Format) {
		result.Error = &types.InvalidImageError{Reason: fmt.Sprintf("不支持的格式: %s", imageData.Format)}
		result.SecurityRisk = "使用了不被允许的格式"
		return result
	}

	// 3. 恶意内容检测
	if v.config.EnableDeepScan && v.scanForExecutable(imageBytes) {
		result.Error = &types.InvalidImageError{Reason: "检测到潜在恶意内容"}
		result.SecurityRisk = "可能包含恶意载荷"
		return result
	}

	// 4. 解码验证，这是最可靠的检查方式
	config, actualFormat, err := image.DecodeConfig(bytes.NewReader(imageBytes))
	if err != nil {
		if imageData.Format != "" && !v.validateFileSignature(imageBytes, imageData.Format) {
			v.logger.Warn("文件头验证失败", map[string]interface{}{
				"declared_format": imageData.Format,
			})
		}
		result.Error = &types.InvalidImageError{Reason: fmt.Sprintf("图片解码失败: %v", err)}
		result.SecurityRisk = "可能包含恶意载荷或损坏的图片数据"
		return result
	}

	if actualFormat != "" {
		result.Format = actualFormat
	}

	// 5. 尺寸与像素限制
	if config.Width > v.config.MaxWidth || config.Height > v.config.MaxHeight {
		result.Error = &types.InvalidImageError{Reason: fmt.Sprintf("图片尺寸超限: %dx%d", config.Width, config.Height)}
		result.SecurityRisk = "图片过大，可能消耗过多资源"
		return result
	}
	totalPixels := int64(config.Width) * int64(config.Height)
	if totalPixels > v.config.MaxPixels {
		result.Error = &types.InvalidImageError{Reason: fmt.Sprintf("像素总数超限: %d", totalPixels)}
		result.SecurityRisk = "像素过多，可能导致内存耗尽"
		return result
	}

	result.IsValid = true
	result.Width = config.Width
	result.Height = config.Height
	result.FileSize = int64(len(imageBytes))

	return result
}

// validateFileSignature 验证文件头签名
func (v *SecurityValidator) validateFileSignature(data []byte, format string) bool {
	signature, exists := imageSignatures[strings.ToLower(format)]
	if !exists {
		return false
	}
	if !bytes.HasPrefix(data, signature) {
		return false
	}

	// WEBP需要额外验证RIFF容器内的标识
	if strings.ToLower(format) == "webp" && len(data) >= 12 {
		return bytes.Equal(data[8:12], []byte("WEBP"))
	}

	return true
}

// isFormatAllowed 检查格式是否被允许
func (v *SecurityValidator) isFormatAllowed(format string) bool {
	formatLower := strings.ToLower(format)
	for _, allowed := range v.config.AllowedFormats {
		if strings.ToLower(allowed) == formatLower {
			return true
		}
	}
	return false
}

// scanForExecutable 检查文件开头的可执行文件签名
func (v *SecurityValidator) scanForExecutable(data []byte) bool {
	executableSignatures := [][]byte{
		{0x4D, 0x5A},             // PE文件头 (MZ)
		{0x7F, 0x45, 0x4C, 0x46}, // ELF文件头
		{0xCA, 0xFE, 0xBA, 0xBE}, // Mach-O文件头
	}
	signatureNames := []string{"PE", "ELF", "Mach-O"}

	for i, signature := range executableSignatures {
		if bytes.HasPrefix(data, signature) {
			v.logger.Warn("文件开头检测到可执行文件签名", map[string]interface{}{
				"signature_type": signatureNames[i],
			})
			return true
		}
	}

	return false
}
