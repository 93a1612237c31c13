package classifier

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/fusion"
	"waste-vision-go/src/core/image"
	"waste-vision-go/src/core/pool"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"

	"golang.org/x/sync/errgroup"
)

// Classifier 垃圾图片分类入口
// 一次调用完成：安全校验 -> 解码 -> 双路预处理 -> 并发推理 -> 决策融合
// 请求之间完全隔离，单个请求失败不影响其他请求
type Classifier struct {
	pools     *pool.PoolManager
	engine    *fusion.Engine
	registry  *taxonomy.Registry
	validator *image.SecurityValidator
	logger    *utils.TaggedLogger

	// 远程图片拉取的大小上限，与安全校验的文件大小限制一致
	maxFetch int64

	metrics image.ImageMetrics
}

// NewClassifier 创建分类器
func NewClassifier(pools *pool.PoolManager, registry *taxonomy.Registry, config *configs.Config, logger *utils.Logger) *Classifier {
	return &Classifier{
		pools:     pools,
		engine:    fusion.NewEngine(registry, config.Fusion),
		registry:  registry,
		validator: image.NewSecurityValidator(&config.Security, logger),
		logger:    logger.WithTag("classifier"),
		maxFetch:  config.Security.MaxFileSize,
	}
}

// Registry 返回类别表
func (c *Classifier) Registry() *taxonomy.Registry {
	return c.registry
}

// Classify 对一张图片执行完整分类流程
func (c *Classifier) Classify(ctx context.Context, data image.ImageData) (*types.ClassificationDecision, error) {
	start := time.Now()
	atomic.AddInt64(&c.metrics.TotalProcessed, 1)

	// 0. 只给了URL的请求先拉取图片字节，之后与本地图片走同一条校验链路
	if len(data.Raw) == 0 && data.Data == "" && data.URL != "" {
		raw, err := image.FetchURL(ctx, data.URL, c.maxFetch)
		if err != nil {
			atomic.AddInt64(&c.metrics.FailedValidations, 1)
			return nil, err
		}
		data.Raw = raw
	}

	// 1. 安全校验，恶意或超限图片在解码前拒绝
	validation := c.validator.Validate(data)
	if !validation.IsValid {
		atomic.AddInt64(&c.metrics.FailedValidations, 1)
		if validation.SecurityRisk != "" {
			atomic.AddInt64(&c.metrics.SecurityIncidents, 1)
		}
		return nil, validation.Error
	}

	raw, err := data.Bytes()
	if err != nil {
		return nil, err
	}

	// 2. 解码一次，每个模型各自派生独立副本
	src, format, err := image.Decode(raw)
	if err != nil {
		atomic.AddInt64(&c.metrics.FailedValidations, 1)
		return nil, err
	}
	c.logger.Debug("图片解码完成", map[string]interface{}{
		"format": format,
		"width":  validation.Width,
		"height": validation.Height,
	})

	// 3. 从池中取一套模型适配器，用完归还
	set, err := c.pools.GetScorerSet()
	if err != nil {
		return nil, &types.ModelUnavailableError{Provider: "pool", Err: err}
	}
	defer c.pools.ReturnScorerSet(set)

	// 4. 两条推理链路并发执行，各自带独立超时
	var cnnScores, embedScores types.ScoreVector

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scoreCtx, cancel := context.WithTimeout(gctx, set.CNNTimeout)
		defer cancel()

		tensor, err := image.Preprocess(src, set.CNN.TargetSpec())
		if err != nil {
			return err
		}
		scores, err := set.CNN.Score(scoreCtx, tensor, c.registry)
		if err != nil {
			return wrapTimeout("cnn", scoreCtx, err)
		}
		cnnScores = scores
		return nil
	})

	if set.Embed != nil {
		g.Go(func() error {
			scoreCtx, cancel := context.WithTimeout(gctx, set.EmbedTimeout)
			defer cancel()

			tensor, err := image.Preprocess(src, set.Embed.TargetSpec())
			if err != nil {
				return err
			}
			scores, err := set.Embed.Score(scoreCtx, tensor, c.registry)
			if err != nil {
				return wrapTimeout("embed", scoreCtx, err)
			}
			embedScores = scores
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 5. 决策融合
	decision, err := c.engine.Fuse(cnnScores, embedScores)
	if err != nil {
		return nil, err
	}
	decision.ElapsedMs = time.Since(start).Milliseconds()

	c.logger.Info("分类完成", map[string]interface{}{
		"category":       decision.CategoryID,
		"confidence":     decision.Confidence,
		"low_confidence": decision.LowConfidence,
		"elapsed_ms":     decision.ElapsedMs,
	})
	return decision, nil
}

// Metrics 返回处理统计快照
func (c *Classifier) Metrics() image.ImageMetrics {
	return image.ImageMetrics{
		TotalProcessed:    atomic.LoadInt64(&c.metrics.TotalProcessed),
		FailedValidations: atomic.LoadInt64(&c.metrics.FailedValidations),
		SecurityIncidents: atomic.LoadInt64(&c.metrics.SecurityIncidents),
	}
}

// wrapTimeout 超时归类为模型不可用，其他错误原样上抛
func wrapTimeout(provider string, ctx context.Context, err error) error {
	var unavailable *types.ModelUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &types.ModelUnavailableError{Provider: provider, Err: err}
	}
	return err
}
