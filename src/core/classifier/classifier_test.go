package classifier

import (
	"bytes"
	"context"
	"errors"
	stdimg "image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/image"
	"waste-vision-go/src/core/pool"
	"waste-vision-go/src/core/providers/cnn"
	"waste-vision-go/src/core/providers/embed"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"
)

// stubCNN 返回固定分布的CNN桩，可配置延迟用于验证超时路径
type stubCNN struct {
	*cnn.BaseProvider
	delay time.Duration
}

func (s *stubCNN) Score(ctx context.Context, tensor *image.Tensor, registry *taxonomy.Registry) (types.ScoreVector, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// 首个类别0.8，其余均分0.2
	scores := make(types.ScoreVector, registry.Size())
	rest := 0.2 / float64(registry.Size()-1)
	for i, cat := range registry.Categories() {
		if i == 0 {
			scores[cat.ID] = 0.8
		} else {
			scores[cat.ID] = rest
		}
	}
	return scores, nil
}

// stubEmbed 返回固定向量的嵌入桩
type stubEmbed struct {
	*embed.BaseProvider
}

func (s *stubEmbed) ImageEmbedding(ctx context.Context, tensor *image.Tensor) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (s *stubEmbed) TextEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	vecs := make([][]float64, len(texts))
	for i := range texts {
		// 第一条提示词与图像向量同向，其余正交
		if i == 0 {
			vecs[i] = []float64{1, 0}
		} else {
			vecs[i] = []float64{0, 1}
		}
	}
	return vecs, nil
}

var registerStubs sync.Once

func registerStubProviders() {
	registerStubs.Do(func() {
		cnn.Register("stubcnn", func(config *cnn.Config, logger *utils.Logger) (cnn.Provider, error) {
			s := &stubCNN{BaseProvider: cnn.NewBaseProvider(config, logger)}
			if d, ok := config.Extra["delay"].(string); ok {
				s.delay, _ = time.ParseDuration(d)
			}
			return s, nil
		})
		embed.Register("stubembed", func(config *embed.Config, logger *utils.Logger) (embed.Provider, error) {
			return &stubEmbed{BaseProvider: embed.NewBaseProvider(config, logger)}, nil
		})
	})
}

func newTestConfig(t *testing.T, withEmbed bool, cnnExtra map[string]interface{}) *configs.Config {
	t.Helper()
	cfg := &configs.Config{}
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	cfg.Log.LogLevel = "info"

	cfg.SelectedModule = map[string]string{"CNN": "StubCNN"}
	cfg.CNN = map[string]configs.CNNConfig{
		"StubCNN": {Type: "stubcnn", Timeout: "2s", Extra: cnnExtra},
	}
	if withEmbed {
		cfg.SelectedModule["Embed"] = "StubEmbed"
		cfg.Embed = map[string]configs.EmbedConfig{
			"StubEmbed": {Type: "stubembed", Timeout: "2s"},
		}
	}

	cfg.Taxonomy = []configs.CategoryConfig{
		{ID: "recyclable", Label: "可回收物", Prompts: []string{"a photo of recyclable waste"}},
		{ID: "organic", Label: "厨余垃圾", Prompts: []string{"a photo of food waste"}},
		{ID: "other", Label: "其他垃圾", Prompts: []string{"a photo of residual waste"}},
	}

	cfg.Security = configs.SecurityConfig{
		MaxFileSize:    1 << 20,
		MaxPixels:      1 << 24,
		MaxWidth:       4096,
		MaxHeight:      4096,
		AllowedFormats: []string{"png", "jpeg"},
		EnableDeepScan: true,
	}
	return cfg
}

func newTestClassifier(t *testing.T, cfg *configs.Config) *Classifier {
	t.Helper()
	registerStubProviders()

	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建日志器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	registry, err := taxonomy.NewRegistry(cfg.Taxonomy, cfg.SelectedModule["Embed"] != "")
	if err != nil {
		t.Fatalf("构建类别表失败: %v", err)
	}

	pools, err := pool.NewPoolManager(cfg, registry, logger)
	if err != nil {
		t.Fatalf("初始化资源池失败: %v", err)
	}
	t.Cleanup(pools.Close)

	return NewClassifier(pools, registry, cfg, logger)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := stdimg.NewRGBA(stdimg.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5), G: uint8(y * 5), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("编码测试图失败: %v", err)
	}
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t, newTestConfig(t, true, nil))

	decision, err := c.Classify(context.Background(), image.ImageData{Raw: testPNG(t)})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}

	// CNN与嵌入都指向第一个类别
	if decision.CategoryID != "recyclable" {
		t.Errorf("CategoryID = %s, want recyclable", decision.CategoryID)
	}
	if decision.Label != "可回收物" {
		t.Errorf("Label = %s, want 可回收物", decision.Label)
	}
	if decision.Confidence <= 0 || decision.Confidence > 1 {
		t.Errorf("Confidence = %f, 应在(0,1]内", decision.Confidence)
	}
	if decision.CNNScores == nil || decision.EmbedScores == nil {
		t.Error("决策应携带两路得分向量")
	}
	if decision.ElapsedMs < 0 {
		t.Errorf("ElapsedMs = %d", decision.ElapsedMs)
	}

	metrics := c.Metrics()
	if metrics.TotalProcessed != 1 {
		t.Errorf("TotalProcessed = %d, want 1", metrics.TotalProcessed)
	}
}

func TestClassifyCNNOnly(t *testing.T) {
	c := newTestClassifier(t, newTestConfig(t, false, nil))

	decision, err := c.Classify(context.Background(), image.ImageData{Raw: testPNG(t)})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision.CategoryID != "recyclable" {
		t.Errorf("CategoryID = %s, want recyclable", decision.CategoryID)
	}
	if decision.EmbedScores != nil {
		t.Error("纯CNN模式下EmbedScores应为nil")
	}
}

func TestClassifyInvalidImage(t *testing.T) {
	c := newTestClassifier(t, newTestConfig(t, true, nil))

	tests := []struct {
		name string
		data image.ImageData
	}{
		{"空数据", image.ImageData{}},
		{"非图片字节", image.ImageData{Raw: []byte("not an image at all")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Classify(context.Background(), tt.data)
			var invalidErr *types.InvalidImageError
			if !errors.As(err, &invalidErr) {
				t.Errorf("Classify() error = %v, want InvalidImageError", err)
			}
		})
	}

	metrics := c.Metrics()
	if metrics.FailedValidations != 2 {
		t.Errorf("FailedValidations = %d, want 2", metrics.FailedValidations)
	}
}

func TestClassifyFromURL(t *testing.T) {
	data := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	c := newTestClassifier(t, newTestConfig(t, true, nil))

	decision, err := c.Classify(context.Background(), image.ImageData{URL: srv.URL})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision.CategoryID != "recyclable" {
		t.Errorf("CategoryID = %s, want recyclable", decision.CategoryID)
	}
}

func TestClassifyFromURLOversize(t *testing.T) {
	data := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	cfg := newTestConfig(t, true, nil)
	cfg.Security.MaxFileSize = 16
	c := newTestClassifier(t, cfg)

	_, err := c.Classify(context.Background(), image.ImageData{URL: srv.URL})
	var invalidErr *types.InvalidImageError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("Classify() error = %v, want InvalidImageError", err)
	}
	if c.Metrics().FailedValidations != 1 {
		t.Errorf("FailedValidations = %d, want 1", c.Metrics().FailedValidations)
	}
}

func TestClassifyAdapterTimeout(t *testing.T) {
	cfg := newTestConfig(t, true, map[string]interface{}{"delay": "500ms"})
	cfg.CNN["StubCNN"] = configs.CNNConfig{
		Type:    "stubcnn",
		Timeout: "50ms", // 远小于桩的500ms延迟，必然触发超时
		Extra:   map[string]interface{}{"delay": "500ms"},
	}
	c := newTestClassifier(t, cfg)

	_, err := c.Classify(context.Background(), image.ImageData{Raw: testPNG(t)})
	var unavailErr *types.ModelUnavailableError
	if !errors.As(err, &unavailErr) {
		t.Fatalf("Classify() error = %v, want ModelUnavailableError", err)
	}
	if unavailErr.Provider != "cnn" {
		t.Errorf("Provider = %s, want cnn", unavailErr.Provider)
	}
}

func TestClassifyConcurrentIsolation(t *testing.T) {
	c := newTestClassifier(t, newTestConfig(t, true, nil))
	data := testPNG(t)

	const n = 16
	var wg sync.WaitGroup
	results := make([]*types.ClassificationDecision, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Classify(context.Background(), image.ImageData{Raw: data})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("请求%d失败: %v", i, errs[i])
		}
		if results[i].CategoryID != results[0].CategoryID ||
			results[i].Confidence != results[0].Confidence {
			t.Errorf("并发请求结果不一致: %+v vs %+v", results[i], results[0])
		}
	}
}
