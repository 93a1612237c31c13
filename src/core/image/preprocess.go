package image

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"waste-vision-go/src/core/types"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"  // 注册BMP解码器
	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// Decode 解码原始图片字节，返回解码后的图像和实际格式
// 无法解码或尺寸为零时返回 InvalidImageError
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &types.InvalidImageError{Reason: "图片数据为空"}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &types.InvalidImageError{Reason: fmt.Sprintf("解码失败: %v", err)}
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, "", &types.InvalidImageError{Reason: "图片尺寸为零"}
	}

	return img, format, nil
}

// Preprocess 将解码后的源图转换为目标规格的模型就绪表示
// 纯变换：源图不被修改，每个下游模型拿到独立的派生副本
func Preprocess(src image.Image, spec TargetSpec) (*Tensor, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("目标尺寸无效: %dx%d", spec.Width, spec.Height)}
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &types.InvalidImageError{Reason: "图片尺寸为零"}
	}

	// Catmull-Rom重采样到目标尺寸，同时完成到RGB的色彩空间转换
	resized := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	draw.CatmullRom.Scale(resized, resized.Bounds(), src, bounds, draw.Src, nil)

	tensor := &Tensor{
		Width:    spec.Width,
		Height:   spec.Height,
		Channels: 3,
	}

	if spec.Layout == LayoutPNG {
		// 远端运行时自己做归一化，这里只重编码缩放后的图像
		var buf bytes.Buffer
		if err := png.Encode(&buf, resized); err != nil {
			return nil, &types.InvalidImageError{Reason: fmt.Sprintf("重编码失败: %v", err)}
		}
		tensor.Encoded = buf.Bytes()
		return tensor, nil
	}

	// 归一化到CHW平面布局: (v/255 - mean) / std
	plane := spec.Width * spec.Height
	tensor.Data = make([]float32, 3*plane)
	for y := 0; y < spec.Height; y++ {
		for x := 0; x < spec.Width; x++ {
			i := resized.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float64(resized.Pix[i+c]) / 255.0
				std := spec.Std[c]
				if std == 0 {
					std = 1
				}
				tensor.Data[c*plane+y*spec.Width+x] = float32((v - spec.Mean[c]) / std)
			}
		}
	}

	return tensor, nil
}
