package clipserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	coreimg "waste-vision-go/src/core/image"
	"waste-vision-go/src/core/providers/embed"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"
)

// Provider 独立CLIP特征服务后端（简单HTTP JSON接口）
type Provider struct {
	*embed.BaseProvider
	httpClient *http.Client
}

// imageRequest 图像编码请求
type imageRequest struct {
	ImageB64 string `json:"image_b64"`
}

// textRequest 文本编码请求
type textRequest struct {
	Texts []string `json:"texts"`
}

// featureResponse 编码响应，单图时features长度为1
type featureResponse struct {
	Features [][]float64 `json:"features"`
}

// 注册提供者
func init() {
	embed.Register("clipserver", NewProvider)
}

// NewProvider 创建CLIP服务提供者
func NewProvider(config *embed.Config, logger *utils.Logger) (embed.Provider, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		BaseProvider: embed.NewBaseProvider(config, logger),
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	if p.Config().BaseURL == "" {
		return fmt.Errorf("缺少CLIP服务地址")
	}
	return nil
}

// ImageEmbedding 计算图像嵌入向量
func (p *Provider) ImageEmbedding(ctx context.Context, tensor *coreimg.Tensor) ([]float64, error) {
	if len(tensor.Encoded) == 0 {
		return nil, &types.InvalidImageError{Reason: "缺少重编码图像数据"}
	}

	features, err := p.post(ctx, "/embed_image", imageRequest{
		ImageB64: base64.StdEncoding.EncodeToString(tensor.Encoded),
	})
	if err != nil {
		return nil, err
	}
	if len(features) != 1 {
		return nil, &types.ShapeMismatchError{Want: 1, Got: len(features)}
	}
	return features[0], nil
}

// TextEmbeddings 批量计算文本嵌入向量
func (p *Provider) TextEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	return p.post(ctx, "/embed_text", textRequest{Texts: texts})
}

// post 发送编码请求并解析特征响应
func (p *Provider) post(ctx context.Context, path string, body interface{}) ([][]float64, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("请求序列化失败: %v", err)
	}

	url := strings.TrimSuffix(p.Config().BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &types.ModelUnavailableError{Provider: "embed-clipserver", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &types.ModelUnavailableError{
			Provider: "embed-clipserver",
			Err:      fmt.Errorf("CLIP服务返回 %d: %s", resp.StatusCode, string(msg)),
		}
	}

	var result featureResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &types.ModelUnavailableError{Provider: "embed-clipserver", Err: fmt.Errorf("解析响应失败: %v", err)}
	}
	return result.Features, nil
}
