package opencv

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	coreimg "waste-vision-go/src/core/image"
	"waste-vision-go/src/core/providers/cnn"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"

	"gocv.io/x/gocv"
)

// Provider 本地OpenCV DNN后端，直接加载ONNX格式的ResNet分类模型
type Provider struct {
	*cnn.BaseProvider
	net    gocv.Net
	loaded bool
	mu     sync.Mutex // gocv.Net的Forward不是并发安全的
}

// 注册提供者
func init() {
	cnn.Register("opencv", NewProvider)
}

// NewProvider 创建OpenCV DNN提供者
func NewProvider(config *cnn.Config, logger *utils.Logger) (cnn.Provider, error) {
	return &Provider{
		BaseProvider: cnn.NewBaseProvider(config, logger),
	}, nil
}

// Initialize 加载模型文件并初始化网络
func (p *Provider) Initialize() error {
	config := p.Config()
	if config.ModelPath == "" {
		return fmt.Errorf("缺少模型文件路径")
	}
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return fmt.Errorf("模型文件不存在: %s", config.ModelPath)
	}

	net := gocv.ReadNet(config.ModelPath, config.ConfigPath)
	if net.Empty() {
		return fmt.Errorf("加载网络失败: %s", config.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		return fmt.Errorf("设置推理后端失败: %v", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		return fmt.Errorf("设置推理目标失败: %v", err)
	}

	p.net = net
	p.loaded = true
	p.Logger().Info(fmt.Sprintf("OpenCV DNN网络加载成功: %s", config.ModelPath))
	return nil
}

// Cleanup 释放网络资源
func (p *Provider) Cleanup() error {
	if p.loaded {
		p.loaded = false
		return p.net.Close()
	}
	return nil
}

// Score 执行一次前向推理，返回覆盖全部类别的概率分布
func (p *Provider) Score(ctx context.Context, tensor *coreimg.Tensor, registry *taxonomy.Registry) (types.ScoreVector, error) {
	if !p.loaded {
		return nil, &types.ModelUnavailableError{Provider: "cnn-opencv", Err: fmt.Errorf("网络未加载")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &types.ModelUnavailableError{Provider: "cnn-opencv", Err: err}
	}

	// 张量已归一化，这里只需要HWC交错数据转成Mat再重排为NCHW blob
	mat, err := gocv.NewMatFromBytes(tensor.Height, tensor.Width, gocv.MatTypeCV32FC3, floatsToBytes(tensor.Interleaved()))
	if err != nil {
		return nil, fmt.Errorf("构造输入Mat失败: %v", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0, image.Pt(tensor.Width, tensor.Height), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	p.mu.Lock()
	p.net.SetInput(blob, "")
	output := p.net.Forward("")
	p.mu.Unlock()
	defer output.Close()

	total := output.Total()
	if total == 0 {
		return nil, &types.ModelUnavailableError{Provider: "cnn-opencv", Err: fmt.Errorf("网络无输出")}
	}

	reshaped := output.Reshape(1, 1)
	defer reshaped.Close()

	logits := make([]float64, total)
	for j := 0; j < total; j++ {
		logits[j] = float64(reshaped.GetFloatAt(0, j))
	}

	return p.ValidateScores(cnn.Softmax(logits), registry)
}

// floatsToBytes 小端序转换，gocv.NewMatFromBytes需要原始字节
func floatsToBytes(data []float32) []byte {
	out := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
