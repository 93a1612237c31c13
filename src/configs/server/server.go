package server

import (
	"context"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/utils"

	"github.com/gin-gonic/gin"
)

type DefaultCfgService struct {
	logger   *utils.Logger
	config   *configs.Config
	registry *taxonomy.Registry
}

// NewDefaultCfgService 构造函数
func NewDefaultCfgService(config *configs.Config, registry *taxonomy.Registry, logger *utils.Logger) (*DefaultCfgService, error) {
	service := &DefaultCfgService{
		logger:   logger,
		config:   config,
		registry: registry,
	}

	return service, nil
}

// Start 实现 CfgService 接口，注册所有 Cfg 相关路由
func (s *DefaultCfgService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {

	apiGroup.GET("/cfg", s.handleGet)
	apiGroup.GET("/taxonomy", s.handleTaxonomy)
	apiGroup.OPTIONS("/cfg", s.handleOptions)
	apiGroup.OPTIONS("/taxonomy", s.handleOptions)

	s.logger.Info("Cfg HTTP服务路由注册完成")
	return nil
}

// handleGet 返回运行配置的只读视图，密钥不外泄
func (s *DefaultCfgService) handleGet(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":          "ok",
		"selected_module": s.config.SelectedModule,
		"fusion": gin.H{
			"cnn_weight":               s.config.Fusion.CNNWeight,
			"embed_weight":             s.config.Fusion.EmbedWeight,
			"temperature":              s.config.Fusion.Temperature,
			"low_confidence_threshold": s.config.Fusion.LowConfidenceThreshold,
			"ambiguity_margin":         s.config.Fusion.AmbiguityMargin,
		},
	})
}

// handleTaxonomy 返回类别表，顺序与声明顺序一致
func (s *DefaultCfgService) handleTaxonomy(c *gin.Context) {
	categories := s.registry.Categories()
	out := make([]gin.H, 0, len(categories))
	for _, cat := range categories {
		out = append(out, gin.H{
			"id":      cat.ID,
			"label":   cat.Label,
			"prompts": cat.Prompts,
		})
	}
	c.JSON(200, gin.H{
		"status":     "ok",
		"categories": out,
	})
}

func (s *DefaultCfgService) handleOptions(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Status(204) // No Content
}
