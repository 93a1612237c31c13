package cnn

import (
	"fmt"
	"math"
	"time"

	"waste-vision-go/src/core/image"
	"waste-vision-go/src/core/providers"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"
)

// 概率分布允许的浮点漂移，超出则重新归一化
const SumTolerance = 1e-4

// Config CNN分类模型配置结构
type Config struct {
	Type        string
	ModelPath   string
	ConfigPath  string
	BaseURL     string
	ModelName   string
	InputWidth  int
	InputHeight int
	Mean        []float64
	Std         []float64
	Timeout     time.Duration
	Extra       map[string]interface{}
}

// Provider CNN分类提供者接口
type Provider interface {
	providers.Scorer
}

// BaseProvider CNN提供者基础实现
type BaseProvider struct {
	config *Config
	logger *utils.Logger
}

// NewBaseProvider 创建CNN基础提供者
func NewBaseProvider(config *Config, logger *utils.Logger) *BaseProvider {
	return &BaseProvider{
		config: config,
		logger: logger,
	}
}

// Config 获取配置
func (p *BaseProvider) Config() *Config {
	return p.config
}

// Logger 获取日志记录器
func (p *BaseProvider) Logger() *utils.Logger {
	return p.logger
}

// Initialize 初始化提供者
func (p *BaseProvider) Initialize() error {
	return nil
}

// Cleanup 清理资源
func (p *BaseProvider) Cleanup() error {
	return nil
}

// TargetSpec 返回预处理目标规格，未配置时使用ImageNet惯例
func (p *BaseProvider) TargetSpec() image.TargetSpec {
	spec := image.TargetSpec{
		Width:  p.config.InputWidth,
		Height: p.config.InputHeight,
		Mean:   [3]float64{0.485, 0.456, 0.406},
		Std:    [3]float64{0.229, 0.224, 0.225},
		Layout: image.LayoutFloat32,
	}
	if spec.Width <= 0 {
		spec.Width = 224
	}
	if spec.Height <= 0 {
		spec.Height = 224
	}
	if len(p.config.Mean) == 3 {
		copy(spec.Mean[:], p.config.Mean)
	}
	if len(p.config.Std) == 3 {
		copy(spec.Std[:], p.config.Std)
	}
	return spec
}

// ValidateScores 契约检查：维度匹配类别表，概率非负且和为1（±容差）
// 轻微越界只重新归一化并记录警告，不让请求失败
func (p *BaseProvider) ValidateScores(probs []float64, registry *taxonomy.Registry) (types.ScoreVector, error) {
	if len(probs) != registry.Size() {
		return nil, &types.ShapeMismatchError{Want: registry.Size(), Got: len(probs)}
	}

	var sum float64
	hasNegative := false
	for _, v := range probs {
		if v < 0 {
			hasNegative = true
		}
		sum += v
	}

	if hasNegative || math.Abs(sum-1) > SumTolerance {
		p.logger.Warn("CNN输出不是合法概率分布，执行重新归一化", map[string]interface{}{
			"sum":          sum,
			"has_negative": hasNegative,
		})
		probs = renormalize(probs)
	}

	scores := make(types.ScoreVector, registry.Size())
	for i, cat := range registry.Categories() {
		scores[cat.ID] = probs[i]
	}
	return scores, nil
}

// renormalize 负值截断为0后按总和归一化，全零时退化为均匀分布
func renormalize(probs []float64) []float64 {
	out := make([]float64, len(probs))
	var sum float64
	for i, v := range probs {
		if v < 0 {
			v = 0
		}
		out[i] = v
		sum += v
	}
	if sum == 0 {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Softmax 将模型原始logits转为概率分布
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Factory CNN工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (Provider, error)

var (
	factories = make(map[string]Factory)
)

// Register 注册CNN提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建CNN提供者实例
func Create(name string, config *Config, logger *utils.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的CNN提供者: %s", name)
	}

	provider, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建CNN提供者失败: %v", err)
	}

	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化CNN提供者失败: %v", err)
	}

	return provider, nil
}
