package openai

import (
	"context"
	"encoding/base64"
	"fmt"

	coreimg "waste-vision-go/src/core/image"
	"waste-vision-go/src/core/providers/embed"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"

	"github.com/sashabaranov/go-openai"
)

// Provider OpenAI兼容嵌入接口后端
// 自托管的CLIP嵌入服务（如infinity、localai）暴露OpenAI兼容的
// /v1/embeddings接口，文本直接编码，图像以base64 data URL作为输入
type Provider struct {
	*embed.BaseProvider
	client *openai.Client
}

// 注册提供者
func init() {
	embed.Register("openai", NewProvider)
}

// NewProvider 创建OpenAI兼容嵌入提供者
func NewProvider(config *embed.Config, logger *utils.Logger) (embed.Provider, error) {
	return &Provider{
		BaseProvider: embed.NewBaseProvider(config, logger),
	}, nil
}

// Initialize 初始化API客户端
func (p *Provider) Initialize() error {
	config := p.Config()
	if config.APIKey == "" {
		return fmt.Errorf("missing embedding API key")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	p.client = openai.NewClientWithConfig(clientConfig)
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// ImageEmbedding 计算图像嵌入向量
func (p *Provider) ImageEmbedding(ctx context.Context, tensor *coreimg.Tensor) ([]float64, error) {
	if p.client == nil {
		return nil, &types.ModelUnavailableError{Provider: "embed-openai", Err: fmt.Errorf("客户端未初始化")}
	}
	if len(tensor.Encoded) == 0 {
		return nil, &types.InvalidImageError{Reason: "缺少重编码图像数据"}
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(tensor.Encoded)
	vecs, err := p.embeddings(ctx, []string{dataURL})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// TextEmbeddings 批量计算文本嵌入向量
func (p *Provider) TextEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if p.client == nil {
		return nil, &types.ModelUnavailableError{Provider: "embed-openai", Err: fmt.Errorf("客户端未初始化")}
	}
	return p.embeddings(ctx, texts)
}

// embeddings 调用嵌入接口并转换为float64向量
func (p *Provider) embeddings(ctx context.Context, inputs []string) ([][]float64, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(p.Config().ModelName),
	})
	if err != nil {
		return nil, &types.ModelUnavailableError{Provider: "embed-openai", Err: err}
	}
	if len(resp.Data) != len(inputs) {
		return nil, &types.ShapeMismatchError{Want: len(inputs), Got: len(resp.Data)}
	}

	out := make([][]float64, len(resp.Data))
	for i, item := range resp.Data {
		vec := make([]float64, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}
