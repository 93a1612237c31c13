package embed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"waste-vision-go/src/core/image"
	"waste-vision-go/src/core/providers"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"
)

// Config 图文嵌入模型配置结构
type Config struct {
	Type        string
	ModelName   string
	BaseURL     string
	APIKey      string
	InputWidth  int
	InputHeight int
	Timeout     time.Duration
	Extra       map[string]interface{}
}

// Provider 图文嵌入提供者接口
// 图像与文本分别编码到同一向量空间，相似度计算在适配器中完成
type Provider interface {
	providers.Provider

	// ImageEmbedding 计算图像嵌入向量
	ImageEmbedding(ctx context.Context, tensor *image.Tensor) ([]float64, error)

	// TextEmbeddings 批量计算文本嵌入向量，顺序与输入一致
	TextEmbeddings(ctx context.Context, texts []string) ([][]float64, error)

	// TargetSpec 返回预处理目标规格
	TargetSpec() image.TargetSpec
}

// BaseProvider 嵌入提供者基础实现
type BaseProvider struct {
	config *Config
	logger *utils.Logger
}

// NewBaseProvider 创建嵌入基础提供者
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

// TargetSpec 远端嵌入服务自己做张量转换，预处理只缩放并重编码为PNG
func (p *BaseProvider) TargetSpec() image.TargetSpec {
	spec := image.TargetSpec{
		Width:  p.config.InputWidth,
		Height: p.config.InputHeight,
		Layout: image.LayoutPNG,
	}
	if spec.Width <= 0 {
		spec.Width = 224
	}
	if spec.Height <= 0 {
		spec.Height = 224
	}
	return spec
}

// Adapter 嵌入评分适配器
// 对每个类别取图像嵌入与该类别各提示词嵌入的最大余弦相似度
// （措辞最贴切的提示词胜出），提示词嵌入只计算一次，
// 类别表不可变所以缓存无需失效
type Adapter struct {
	provider Provider
	registry *taxonomy.Registry
	logger   *utils.Logger

	mu         sync.Mutex
	promptVecs [][][]float64 // 声明顺序 -> 提示词序号 -> 向量
}

// NewAdapter 创建嵌入评分适配器
func NewAdapter(provider Provider, registry *taxonomy.Registry, logger *utils.Logger) *Adapter {
	return &Adapter{
		provider: provider,
		registry: registry,
		logger:   logger,
	}
}

// Provider 返回底层提供者
func (a *Adapter) Provider() Provider {
	return a.provider
}

// TargetSpec 返回底层提供者的预处理目标规格
func (a *Adapter) TargetSpec() image.TargetSpec {
	return a.provider.TargetSpec()
}

// Initialize 初始化底层提供者
func (a *Adapter) Initialize() error {
	return a.provider.Initialize()
}

// Cleanup 清理底层提供者
func (a *Adapter) Cleanup() error {
	return a.provider.Cleanup()
}

// Score providers.Scorer接口实现
// 返回每个类别的相似度得分（[-1,1]），不归一化，缩放差异由融合引擎处理
func (a *Adapter) Score(ctx context.Context, tensor *image.Tensor, registry *taxonomy.Registry) (types.ScoreVector, error) {
	promptVecs, err := a.promptEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	imgVec, err := a.provider.ImageEmbedding(ctx, tensor)
	if err != nil {
		return nil, err
	}

	scores := make(types.ScoreVector, registry.Size())
	for i, cat := range registry.Categories() {
		best := math.Inf(-1)
		for _, pv := range promptVecs[i] {
			sim, err := Cosine(imgVec, pv)
			if err != nil {
				return nil, err
			}
			if sim > best {
				best = sim
			}
		}
		scores[cat.ID] = best
	}

	return scores, nil
}

// promptEmbeddings 惰性计算并缓存全部提示词嵌入
func (a *Adapter) promptEmbeddings(ctx context.Context) ([][][]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.promptVecs != nil {
		return a.promptVecs, nil
	}

	categories := a.registry.Categories()

	// 所有提示词一次性批量编码
	var all []string
	for _, cat := range categories {
		all = append(all, cat.Prompts...)
	}

	vecs, err := a.provider.TextEmbeddings(ctx, all)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(all) {
		return nil, &types.ShapeMismatchError{Want: len(all), Got: len(vecs)}
	}

	result := make([][][]float64, len(categories))
	offset := 0
	for i, cat := range categories {
		result[i] = vecs[offset : offset+len(cat.Prompts)]
		offset += len(cat.Prompts)
	}

	a.promptVecs = result
	a.logger.Info(fmt.Sprintf("提示词嵌入缓存完成，共 %d 条", len(all)))
	return result, nil
}

// Cosine 余弦相似度，维度不一致视为集成错误
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &types.ShapeMismatchError{Want: len(a), Got: len(b)}
	}
	if len(a) == 0 {
		return 0, &types.EmptyScoreVectorError{Detail: "嵌入向量为空"}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Factory 嵌入工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (Provider, error)

var (
	factories = make(map[string]Factory)
)

// Register 注册嵌入提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建嵌入提供者实例
func Create(name string, config *Config, logger *utils.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的嵌入提供者: %s", name)
	}

	provider, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建嵌入提供者失败: %v", err)
	}

	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化嵌入提供者失败: %v", err)
	}

	return provider, nil
}
