package providers

import (
	"context"

	"waste-vision-go/src/core/image"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
)

// Provider 所有提供者的基础接口
type Provider interface {
	Initialize() error
	Cleanup() error
}

// Scorer 评分来源接口
// 输入预处理张量与类别表，输出覆盖全部类别ID的得分向量
// 模型本身是外部黑盒，这里只负责输入输出契约
type Scorer interface {
	Provider

	Score(ctx context.Context, tensor *image.Tensor, registry *taxonomy.Registry) (types.ScoreVector, error)

	// TargetSpec 返回该模型期望的预处理目标规格
	TargetSpec() image.TargetSpec
}
