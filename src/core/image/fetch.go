package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"waste-vision-go/src/core/types"
)

// 远程图片拉取共用一个客户端，单次拉取的超时由调用方上下文控制，
// 客户端超时只是兜底
var fetchClient = &http.Client{Timeout: 30 * time.Second}

// FetchURL 拉取远程图片字节，大小超过maxSize时中止
// 拉回的数据仍会走完整的安全校验，这里只做传输层限制
func FetchURL(ctx context.Context, rawURL string, maxSize int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("图片URL无效: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("不支持的图片URL协议: %s", u.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("构造图片请求失败: %v", err)}
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("拉取图片失败: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("拉取图片失败: HTTP %d", resp.StatusCode)}
	}
	if resp.ContentLength > maxSize {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("图片大小 %d 超过限制 %d", resp.ContentLength, maxSize)}
	}

	// 多读一个字节以区分刚好到上限和超限
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("读取图片数据失败: %v", err)}
	}
	if int64(len(data)) > maxSize {
		return nil, &types.InvalidImageError{Reason: fmt.Sprintf("图片大小超过限制 %d", maxSize)}
	}
	if len(data) == 0 {
		return nil, &types.InvalidImageError{Reason: "拉取到的图片数据为空"}
	}

	return data, nil
}
