package types

// ScoreVector 单一评分来源的输出：类别ID -> 得分
// CNN来源为概率分布（和为1），嵌入来源为余弦相似度（[-1,1]）
type ScoreVector map[string]float64

// Clone 复制得分向量，决策结果中保留的原始向量不与调用方共享
func (sv ScoreVector) Clone() ScoreVector {
	if sv == nil {
		return nil
	}
	out := make(ScoreVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// ClassificationDecision 融合后的最终分类决策
// 创建后不可变，核心不负责持久化
type ClassificationDecision struct {
	CategoryID    string      `json:"category_id"`    // 最终类别ID
	Label         string      `json:"label"`          // 人类可读标签
	Confidence    float64     `json:"confidence"`     // 融合置信度 [0,1]
	LowConfidence bool        `json:"low_confidence"` // 低置信度标记，建议人工复核
	CNNScores     ScoreVector `json:"cnn_scores"`     // CNN原始得分（审计用）
	EmbedScores   ScoreVector `json:"embed_scores"`   // 嵌入原始相似度（审计用）
	ElapsedMs     int64       `json:"elapsed_ms"`     // 推理耗时（毫秒）
}
