package pool

import (
	"fmt"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/providers"
	"waste-vision-go/src/core/providers/cnn"
	"waste-vision-go/src/core/providers/embed"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/utils"
)

/*
* 工厂类，用于创建不同类型的资源池工厂。
* 通过配置文件和提供者类型，动态创建资源池工厂。
* 支持CNN分类模型和图文嵌入模型两类提供者。
* 每个工厂实现了ResourceFactory接口，提供Create和Destroy方法。
 */

// ProviderFactory 简化的提供者工厂
type ProviderFactory struct {
	providerType string
	config       interface{}
	registry     *taxonomy.Registry
	logger       *utils.Logger
}

func (f *ProviderFactory) Create() (interface{}, error) {
	return f.createProvider()
}

func (f *ProviderFactory) Destroy(resource interface{}) error {
	if provider, ok := resource.(providers.Provider); ok {
		return provider.Cleanup()
	}
	if resource != nil {
		if cleaner, ok := resource.(interface{ Cleanup() error }); ok {
			return cleaner.Cleanup()
		}
	}
	return nil
}

func (f *ProviderFactory) createProvider() (interface{}, error) {
	switch f.providerType {
	case "cnn":
		cfg := f.config.(*cnn.Config)
		return cnn.Create(cfg.Type, cfg, f.logger)
	case "embed":
		cfg := f.config.(*embed.Config)
		provider, err := embed.Create(cfg.Type, cfg, f.logger)
		if err != nil {
			return nil, err
		}
		// 评分通过适配器完成，提示词嵌入缓存随适配器一起入池
		return embed.NewAdapter(provider, f.registry, f.logger), nil
	default:
		return nil, fmt.Errorf("未知的提供者类型: %s", f.providerType)
	}
}

// 创建各类型工厂的便利函数
func NewCNNFactory(cnnType string, config *configs.Config, logger *utils.Logger) ResourceFactory {
	if cnnCfg, ok := config.CNN[cnnType]; ok {
		return &ProviderFactory{
			providerType: "cnn",
			config: &cnn.Config{
				Type:        cnnCfg.Type,
				ModelPath:   cnnCfg.ModelPath,
				ConfigPath:  cnnCfg.ConfigPath,
				BaseURL:     cnnCfg.BaseURL,
				ModelName:   cnnCfg.ModelName,
				InputWidth:  cnnCfg.InputWidth,
				InputHeight: cnnCfg.InputHeight,
				Mean:        cnnCfg.Mean,
				Std:         cnnCfg.Std,
				Timeout:     parseTimeout(cnnCfg.Timeout),
				Extra:       cnnCfg.Extra,
			},
			logger: logger,
		}
	}
	return nil
}

func NewEmbedFactory(embedType string, config *configs.Config, registry *taxonomy.Registry, logger *utils.Logger) ResourceFactory {
	if embedCfg, ok := config.Embed[embedType]; ok {
		return &ProviderFactory{
			providerType: "embed",
			config: &embed.Config{
				Type:        embedCfg.Type,
				ModelName:   embedCfg.ModelName,
				BaseURL:     embedCfg.BaseURL,
				APIKey:      embedCfg.APIKey,
				InputWidth:  embedCfg.InputWidth,
				InputHeight: embedCfg.InputHeight,
				Timeout:     parseTimeout(embedCfg.Timeout),
				Extra:       embedCfg.Extra,
			},
			registry: registry,
			logger:   logger,
		}
	}
	return nil
}

// parseTimeout 解析超时配置，非法或缺省时返回0由调用方取默认值
func parseTimeout(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
