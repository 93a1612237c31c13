package fusion

import (
	"fmt"
	"math"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
)

// 默认融合参数，可通过配置覆盖
const (
	DefaultCNNWeight              = 0.5
	DefaultEmbedWeight            = 0.5
	DefaultTemperature            = 1.0
	DefaultLowConfidenceThreshold = 0.6
	DefaultAmbiguityMargin        = 0.05
)

// Engine 决策融合引擎
// 两个来源的得分向量合并为单一决策，调用之间不保留任何状态，
// 相同输入和配置下输出逐位一致
type Engine struct {
	registry  *taxonomy.Registry
	wCNN      float64
	wEmbed    float64
	temp      float64
	threshold float64
	margin    float64
}

// NewEngine 创建融合引擎，缺省参数取默认值，权重归一化到和为1
func NewEngine(registry *taxonomy.Registry, cfg configs.FusionConfig) *Engine {
	e := &Engine{
		registry:  registry,
		wCNN:      cfg.CNNWeight,
		wEmbed:    cfg.EmbedWeight,
		temp:      cfg.Temperature,
		threshold: cfg.LowConfidenceThreshold,
		margin:    cfg.AmbiguityMargin,
	}

	if e.wCNN == 0 && e.wEmbed == 0 {
		e.wCNN = DefaultCNNWeight
		e.wEmbed = DefaultEmbedWeight
	}
	if sum := e.wCNN + e.wEmbed; sum != 1 && sum > 0 {
		e.wCNN /= sum
		e.wEmbed /= sum
	}
	if e.temp <= 0 {
		e.temp = DefaultTemperature
	}
	if e.threshold == 0 {
		e.threshold = DefaultLowConfidenceThreshold
	}
	if e.margin == 0 {
		e.margin = DefaultAmbiguityMargin
	}

	return e
}

// Fuse 合并CNN概率分布与嵌入相似度向量，产出最终决策
// 两个向量必须恰好覆盖类别表的全部ID，否则视为集成错误直接上抛
// embedScores为nil表示未配置嵌入模型，此时退化为纯CNN决策
func (e *Engine) Fuse(cnnScores, embedScores types.ScoreVector) (*types.ClassificationDecision, error) {
	if err := e.checkVectors(cnnScores, embedScores); err != nil {
		return nil, err
	}

	categories := e.registry.Categories()

	// 按声明顺序计算融合得分：
	// 嵌入相似度先经温度softmax变为伪概率分布，再与CNN概率加权求和
	fused := make([]float64, len(categories))
	if embedScores == nil {
		for i, cat := range categories {
			fused[i] = cnnScores[cat.ID]
		}
	} else {
		normEmbed := e.softmax(embedScores)
		for i, cat := range categories {
			fused[i] = e.wCNN*cnnScores[cat.ID] + e.wEmbed*normEmbed[cat.ID]
		}
	}

	// 3. 取最大融合得分；平局先看CNN得分，再按声明顺序
	best := 0
	for i := 1; i < len(categories); i++ {
		if fused[i] > fused[best] {
			best = i
			continue
		}
		if fused[i] == fused[best] && cnnScores[categories[i].ID] > cnnScores[categories[best].ID] {
			best = i
		}
	}

	second := math.Inf(-1)
	for i := range fused {
		if i != best && fused[i] > second {
			second = fused[i]
		}
	}
	if math.IsInf(second, -1) {
		second = 0
	}

	// 4. 低置信判定：最高分低于阈值，或前两名差距小于边际
	top := fused[best]
	lowConfidence := top < e.threshold || (top-second) < e.margin

	cat := categories[best]
	return &types.ClassificationDecision{
		CategoryID:    cat.ID,
		Label:         cat.Label,
		Confidence:    top,
		LowConfidence: lowConfidence,
		CNNScores:     cnnScores.Clone(),
		EmbedScores:   embedScores.Clone(),
	}, nil
}

// checkVectors 验证两个得分向量非空且类别集合与类别表一致
func (e *Engine) checkVectors(cnnScores, embedScores types.ScoreVector) error {
	if len(cnnScores) == 0 {
		return &types.EmptyScoreVectorError{Detail: "CNN得分向量为空"}
	}
	if embedScores != nil && len(embedScores) == 0 {
		return &types.EmptyScoreVectorError{Detail: "嵌入得分向量为空"}
	}
	if len(cnnScores) != e.registry.Size() || (embedScores != nil && len(embedScores) != e.registry.Size()) {
		return &types.EmptyScoreVectorError{
			Detail: fmt.Sprintf("类别数量不一致: 类别表 %d, CNN %d, 嵌入 %d",
				e.registry.Size(), len(cnnScores), len(embedScores)),
		}
	}
	for _, cat := range e.registry.Categories() {
		if _, ok := cnnScores[cat.ID]; !ok {
			return &types.EmptyScoreVectorError{Detail: fmt.Sprintf("CNN得分缺少类别 %s", cat.ID)}
		}
		if embedScores != nil {
			if _, ok := embedScores[cat.ID]; !ok {
				return &types.EmptyScoreVectorError{Detail: fmt.Sprintf("嵌入得分缺少类别 %s", cat.ID)}
			}
		}
	}
	return nil
}

// softmax 温度softmax，温度越低分布越尖锐
// 减去最大值避免指数溢出，结果不受影响
func (e *Engine) softmax(scores types.ScoreVector) types.ScoreVector {
	maxScore := math.Inf(-1)
	for _, v := range scores {
		if v > maxScore {
			maxScore = v
		}
	}

	out := make(types.ScoreVector, len(scores))
	var sum float64
	for _, cat := range e.registry.Categories() {
		v := math.Exp((scores[cat.ID] - maxScore) / e.temp)
		out[cat.ID] = v
		sum += v
	}
	for id := range out {
		out[id] /= sum
	}
	return out
}
