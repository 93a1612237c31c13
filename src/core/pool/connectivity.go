package pool

import (
	"context"
	"fmt"
	stdimg "image"
	"image/color"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/image"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/utils"
)

// CheckResult 检查结果
type CheckResult struct {
	ProviderType string        `json:"provider_type"`
	Success      bool          `json:"success"`
	Error        error         `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ConnectivityConfig 连通性检查配置
type ConnectivityConfig struct {
	Enabled       bool
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// ConfigFromYAML 从YAML配置创建连通性检查配置
func ConfigFromYAML(yamlConfig *configs.ConnectivityCheckConfig) *ConnectivityConfig {
	if yamlConfig == nil {
		return DefaultConnectivityConfig()
	}

	timeout := 30 * time.Second
	if d := parseTimeout(yamlConfig.Timeout); d > 0 {
		timeout = d
	}

	retryDelay := 5 * time.Second
	if d := parseTimeout(yamlConfig.RetryDelay); d > 0 {
		retryDelay = d
	}

	retryAttempts := 3
	if yamlConfig.RetryAttempts > 0 {
		retryAttempts = yamlConfig.RetryAttempts
	}

	return &ConnectivityConfig{
		Enabled:       yamlConfig.Enabled,
		Timeout:       timeout,
		RetryAttempts: retryAttempts,
		RetryDelay:    retryDelay,
	}
}

// DefaultConnectivityConfig 默认连通性检查配置
func DefaultConnectivityConfig() *ConnectivityConfig {
	return &ConnectivityConfig{
		Enabled:       true,
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
	}
}

// HealthChecker 统一健康检查管理器
// 启动时把一张合成测试图完整推过CNN和嵌入两条链路，
// 提前暴露模型文件缺失、推理服务不可达、密钥错误等问题
type HealthChecker struct {
	connConfig *ConnectivityConfig
	registry   *taxonomy.Registry
	logger     *utils.Logger
	results    map[string]*CheckResult
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(connConfig *ConnectivityConfig, registry *taxonomy.Registry, logger *utils.Logger) *HealthChecker {
	return &HealthChecker{
		connConfig: connConfig,
		registry:   registry,
		logger:     logger,
		results:    make(map[string]*CheckResult),
	}
}

// CheckScorerSet 对一套模型适配器执行带重试的功能性检查
func (hc *HealthChecker) CheckScorerSet(ctx context.Context, set *ScorerSet) error {
	if !hc.connConfig.Enabled {
		hc.logger.Info("连通性检查已禁用，跳过")
		return nil
	}

	testImage := hc.testImage()

	if err := hc.checkWithRetry(ctx, "cnn", func(checkCtx context.Context) error {
		tensor, err := image.Preprocess(testImage, set.CNN.TargetSpec())
		if err != nil {
			return err
		}
		_, err = set.CNN.Score(checkCtx, tensor, hc.registry)
		return err
	}); err != nil {
		return fmt.Errorf("CNN连通性检查失败: %v", err)
	}

	if set.Embed != nil {
		if err := hc.checkWithRetry(ctx, "embed", func(checkCtx context.Context) error {
			tensor, err := image.Preprocess(testImage, set.Embed.TargetSpec())
			if err != nil {
				return err
			}
			_, err = set.Embed.Score(checkCtx, tensor, hc.registry)
			return err
		}); err != nil {
			return fmt.Errorf("嵌入连通性检查失败: %v", err)
		}
	}

	return nil
}

// checkWithRetry 执行单项检查，失败后按配置重试
func (hc *HealthChecker) checkWithRetry(ctx context.Context, name string, check func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= hc.connConfig.RetryAttempts; attempt++ {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, hc.connConfig.Timeout)
		err := check(checkCtx)
		cancel()

		result := &CheckResult{
			ProviderType: name,
			Success:      err == nil,
			Error:        err,
			Duration:     time.Since(start),
			Timestamp:    time.Now(),
		}
		hc.results[name] = result

		if err == nil {
			hc.logger.FormatInfo("%s 连通性检查通过，耗时 %v", name, result.Duration)
			return nil
		}

		lastErr = err
		hc.logger.FormatWarn("%s 连通性检查第 %d/%d 次失败: %v", name, attempt, hc.connConfig.RetryAttempts, err)

		if attempt < hc.connConfig.RetryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(hc.connConfig.RetryDelay):
			}
		}
	}

	return lastErr
}

// Results 返回最近一次各项检查的结果
func (hc *HealthChecker) Results() map[string]*CheckResult {
	return hc.results
}

// testImage 生成一张渐变测试图，内容无意义，只验证链路通畅
func (hc *HealthChecker) testImage() stdimg.Image {
	const size = 64
	img := stdimg.NewRGBA(stdimg.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / size),
				G: uint8(y * 255 / size),
				B: uint8((x + y) * 255 / (2 * size)),
				A: 255,
			})
		}
	}
	return img
}
