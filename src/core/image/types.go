package image

import (
	"encoding/base64"
	"fmt"

	"waste-vision-go/src/core/types"
)

// ImageData 图片输入数据结构
type ImageData struct {
	URL    string `json:"url,omitempty"`    // 图片URL地址
	Data   string `json:"data,omitempty"`   // base64编码的图片数据
	Raw    []byte `json:"-"`                // 原始图片字节（服务层直接传入）
	Format string `json:"format,omitempty"` // 图片格式：jpeg, png, webp, gif
}

// Bytes 返回原始图片字节，必要时先做base64解码
func (d ImageData) Bytes() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	if d.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(d.Data)
		if err != nil {
			return nil, &types.InvalidImageError{Reason: fmt.Sprintf("base64解码失败: %v", err)}
		}
		return decoded, nil
	}
	return nil, &types.InvalidImageError{Reason: "缺少图片数据"}
}

// ValidationResult 图片验证结果
type ValidationResult struct {
	IsValid      bool   // 是否有效
	Format       string // 实际格式
	Width        int    // 图片宽度
	Height       int    // 图片高度
	FileSize     int64  // 文件大小
	Error        error  // 错误信息
	SecurityRisk string // 安全风险描述
}

// TensorLayout 目标表示的布局类型
type TensorLayout string

const (
	// LayoutFloat32 归一化的CHW浮点张量，本地推理运行时使用
	LayoutFloat32 TensorLayout = "float32"
	// LayoutPNG 重编码的PNG图像，远端推理服务自行做张量转换
	LayoutPNG TensorLayout = "png"
)

// TargetSpec 下游模型的输入目标规格，每个模型各自一份
type TargetSpec struct {
	Width  int
	Height int
	Mean   [3]float64 // 各通道归一化均值
	Std    [3]float64 // 各通道归一化标准差
	Layout TensorLayout
}

// Tensor 模型就绪的派生表示
// 每次推理调用新建，归调用方所有，不与源图共享内存
type Tensor struct {
	Data     []float32 // CHW平面布局的归一化像素
	Width    int
	Height   int
	Channels int
	Encoded  []byte // Layout为png时的重编码图像数据
}

// Interleaved 返回HWC交错布局的副本（OpenCV Mat需要交错数据）
func (t *Tensor) Interleaved() []float32 {
	out := make([]float32, len(t.Data))
	plane := t.Width * t.Height
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			for c := 0; c < t.Channels; c++ {
				out[(y*t.Width+x)*t.Channels+c] = t.Data[c*plane+y*t.Width+x]
			}
		}
	}
	return out
}

// ImageMetrics 图片处理统计信息
type ImageMetrics struct {
	TotalProcessed    int64 // 总处理数量
	FailedValidations int64 // 验证失败次数
	SecurityIncidents int64 // 安全事件次数
}
