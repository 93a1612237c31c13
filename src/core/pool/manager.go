package pool

import (
	"fmt"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/providers/cnn"
	"waste-vision-go/src/core/providers/embed"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/utils"
)

// DefaultScoreTimeout 单个模型适配器的默认调用超时
const DefaultScoreTimeout = 30 * time.Second

// PoolManager 资源池管理器
type PoolManager struct {
	cnnPool   *ResourcePool
	embedPool *ResourcePool

	cnnTimeout   time.Duration
	embedTimeout time.Duration

	logger *utils.Logger
}

// ScorerSet 一次分类请求使用的一套模型适配器
type ScorerSet struct {
	CNN   cnn.Provider
	Embed *embed.Adapter

	CNNTimeout   time.Duration
	EmbedTimeout time.Duration
}

// NewPoolManager 创建资源池管理器
func NewPoolManager(config *configs.Config, registry *taxonomy.Registry, logger *utils.Logger) (*PoolManager, error) {
	pm := &PoolManager{
		cnnTimeout:   DefaultScoreTimeout,
		embedTimeout: DefaultScoreTimeout,
		logger:       logger,
	}

	poolConfig := PoolConfig{
		MinSize:       2,
		MaxSize:       8,
		RefillSize:    1,
		CheckInterval: 30 * time.Second,
	}

	// 检查配置是否包含所需的模块
	selectedModule := config.SelectedModule

	// 初始化CNN池
	if cnnType, ok := selectedModule["CNN"]; ok && cnnType != "" {
		cnnFactory := NewCNNFactory(cnnType, config, logger)
		if cnnFactory == nil {
			return nil, fmt.Errorf("创建CNN工厂失败: 找不到配置 %s", cnnType)
		}
		cnnPool, err := NewResourcePool(cnnFactory, poolConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化CNN资源池失败: %v", err)
		}
		pm.cnnPool = cnnPool
		if d := parseTimeout(config.CNN[cnnType].Timeout); d > 0 {
			pm.cnnTimeout = d
		}
		_, cnt := cnnPool.GetStats()
		logger.FormatInfo("CNN资源池初始化成功，类型: %s, 数量：%d", cnnType, cnt)
	}

	// 初始化嵌入池（可选，未配置时退化为纯CNN分类）
	if embedType, ok := selectedModule["Embed"]; ok && embedType != "" {
		embedFactory := NewEmbedFactory(embedType, config, registry, logger)
		if embedFactory == nil {
			return nil, fmt.Errorf("创建嵌入工厂失败: 找不到配置 %s", embedType)
		}
		embedPool, err := NewResourcePool(embedFactory, poolConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化嵌入资源池失败: %v", err)
		}
		pm.embedPool = embedPool
		if d := parseTimeout(config.Embed[embedType].Timeout); d > 0 {
			pm.embedTimeout = d
		}
		_, cnt := embedPool.GetStats()
		logger.FormatInfo("嵌入资源池初始化成功，类型: %s, 数量：%d", embedType, cnt)
	}

	if pm.cnnPool == nil {
		return nil, fmt.Errorf("selected_module 未配置CNN模块")
	}

	return pm, nil
}

// HasEmbed 是否配置了嵌入模型
func (pm *PoolManager) HasEmbed() bool {
	return pm.embedPool != nil
}

// GetScorerSet 获取一套模型适配器
func (pm *PoolManager) GetScorerSet() (*ScorerSet, error) {
	set := &ScorerSet{
		CNNTimeout:   pm.cnnTimeout,
		EmbedTimeout: pm.embedTimeout,
	}

	cnnRes, err := pm.cnnPool.Get()
	if err != nil {
		return nil, fmt.Errorf("获取CNN提供者失败: %v", err)
	}
	set.CNN = cnnRes.(cnn.Provider)

	if pm.embedPool != nil {
		embedRes, err := pm.embedPool.Get()
		if err != nil {
			pm.cnnPool.Put(cnnRes)
			return nil, fmt.Errorf("获取嵌入适配器失败: %v", err)
		}
		set.Embed = embedRes.(*embed.Adapter)
	}

	return set, nil
}

// ReturnScorerSet 归还一套模型适配器
func (pm *PoolManager) ReturnScorerSet(set *ScorerSet) {
	if set == nil {
		return
	}
	if set.CNN != nil {
		pm.cnnPool.Put(set.CNN)
	}
	if set.Embed != nil && pm.embedPool != nil {
		pm.embedPool.Put(set.Embed)
	}
}

// Close 关闭所有资源池
func (pm *PoolManager) Close() {
	if pm.cnnPool != nil {
		pm.cnnPool.Close()
	}
	if pm.embedPool != nil {
		pm.embedPool.Close()
	}
}

// GetStats 获取所有池的统计信息
func (pm *PoolManager) GetStats() map[string]map[string]int {
	stats := make(map[string]map[string]int)

	if pm.cnnPool != nil {
		available, total := pm.cnnPool.GetStats()
		stats["cnn"] = map[string]int{"available": available, "total": total}
	}

	if pm.embedPool != nil {
		available, total := pm.embedPool.GetStats()
		stats["embed"] = map[string]int{"available": available, "total": total}
	}

	return stats
}
