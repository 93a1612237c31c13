package modelserve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	coreimg "waste-vision-go/src/core/image"
	"waste-vision-go/src/core/providers/cnn"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"
)

// Provider HTTP推理服务后端（TorchServe风格的REST接口）
// 模型权重、硬件放置和预热由外部推理服务负责，这里只做调用与契约检查
type Provider struct {
	*cnn.BaseProvider
	httpClient *http.Client
}

// scoreRequest 推理请求结构
type scoreRequest struct {
	Shape      []int     `json:"shape"`      // NCHW
	Data       []float32 `json:"data"`       // 归一化的张量数据
	Categories []string  `json:"categories"` // 按声明顺序的类别ID
}

// scoreResponse 推理响应结构
type scoreResponse struct {
	Scores []float64 `json:"scores"` // 与请求类别顺序一致的概率
}

// 注册提供者
func init() {
	cnn.Register("modelserve", NewProvider)
}

// NewProvider 创建HTTP推理服务提供者
func NewProvider(config *cnn.Config, logger *utils.Logger) (cnn.Provider, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		BaseProvider: cnn.NewBaseProvider(config, logger),
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	if p.Config().BaseURL == "" {
		return fmt.Errorf("缺少推理服务地址")
	}
	if p.Config().ModelName == "" {
		return fmt.Errorf("缺少模型名称")
	}
	return nil
}

// Score 调用远端推理服务，返回覆盖全部类别的概率分布
func (p *Provider) Score(ctx context.Context, tensor *coreimg.Tensor, registry *taxonomy.Registry) (types.ScoreVector, error) {
	config := p.Config()

	reqBody := scoreRequest{
		Shape:      []int{1, tensor.Channels, tensor.Height, tensor.Width},
		Data:       tensor.Data,
		Categories: registry.IDs(),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("请求序列化失败: %v", err)
	}

	url := fmt.Sprintf("%s/predictions/%s", strings.TrimSuffix(config.BaseURL, "/"), config.ModelName)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &types.ModelUnavailableError{Provider: "cnn-modelserve", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &types.ModelUnavailableError{
			Provider: "cnn-modelserve",
			Err:      fmt.Errorf("推理服务返回 %d: %s", resp.StatusCode, string(body)),
		}
	}

	var result scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &types.ModelUnavailableError{Provider: "cnn-modelserve", Err: fmt.Errorf("解析响应失败: %v", err)}
	}

	return p.ValidateScores(result.Scores, registry)
}
