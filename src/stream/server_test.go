package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	stdimg "image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/auth"
	"waste-vision-go/src/core/classifier"
	"waste-vision-go/src/core/image"
	"waste-vision-go/src/core/pool"
	"waste-vision-go/src/core/providers/cnn"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"

	"github.com/gorilla/websocket"
)

// streamStubCNN 固定分布的CNN桩，首个类别得分最高
type streamStubCNN struct {
	*cnn.BaseProvider
}

func (s *streamStubCNN) Score(ctx context.Context, tensor *image.Tensor, registry *taxonomy.Registry) (types.ScoreVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
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

var registerStreamStub sync.Once

func registerStreamStubProvider() {
	registerStreamStub.Do(func() {
		cnn.Register("streamcnn", func(config *cnn.Config, logger *utils.Logger) (cnn.Provider, error) {
			return &streamStubCNN{BaseProvider: cnn.NewBaseProvider(config, logger)}, nil
		})
	})
}

// wsFrame 一条待下发给假连接的消息
type wsFrame struct {
	messageType int
	data        []byte
}

// fakeConn 进程内假WebSocket连接，读取预置帧、收集写出的帧
type fakeConn struct {
	incoming  chan wsFrame
	written   chan []byte
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan wsFrame, 8),
		written:  make(chan []byte, 8),
	}
}

func (fc *fakeConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-fc.incoming
	if !ok {
		return 0, nil, fmt.Errorf("连接已关闭")
	}
	return frame.messageType, frame.data, nil
}

func (fc *fakeConn) WriteMessage(messageType int, data []byte) error {
	fc.written <- data
	return nil
}

func (fc *fakeConn) Close() error {
	fc.closeOnce.Do(func() { close(fc.incoming) })
	return nil
}

// fakeUpgrader 记录升级次数并返回预置的假连接
type fakeUpgrader struct {
	conn     *fakeConn
	upgrades int
}

func (fu *fakeUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	fu.upgrades++
	return fu.conn, nil
}

func newStreamTestConfig(t *testing.T, authEnabled bool) *configs.Config {
	t.Helper()
	cfg := &configs.Config{}
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	cfg.Log.LogLevel = "info"

	cfg.Server.Auth.Enabled = authEnabled
	cfg.Server.Auth.Secret = "stream-test-secret"

	cfg.SelectedModule = map[string]string{"CNN": "StreamCNN"}
	cfg.CNN = map[string]configs.CNNConfig{
		"StreamCNN": {Type: "streamcnn", Timeout: "2s"},
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

func newStreamTestServer(t *testing.T, cfg *configs.Config, fu *fakeUpgrader) *StreamServer {
	t.Helper()
	registerStreamStubProvider()

	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建日志器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	registry, err := taxonomy.NewRegistry(cfg.Taxonomy, false)
	if err != nil {
		t.Fatalf("构建类别表失败: %v", err)
	}

	pools, err := pool.NewPoolManager(cfg, registry, logger)
	if err != nil {
		t.Fatalf("初始化资源池失败: %v", err)
	}
	t.Cleanup(pools.Close)

	cls := classifier.NewClassifier(pools, registry, cfg, logger)

	ss, err := NewStreamServer(cfg, cls, logger)
	if err != nil {
		t.Fatalf("创建实时分类服务器失败: %v", err)
	}
	ss.upgrader = fu
	return ss
}

func streamTestPNG(t *testing.T) []byte {
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

func waitForFrame(t *testing.T, fc *fakeConn) []byte {
	t.Helper()
	select {
	case data := <-fc.written:
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("等待连接回写超时")
		return nil
	}
}

// 升级处理函数返回后请求上下文即被取消，
// 连接循环必须仍能对后续帧正常分类
func TestFrameClassifiedAfterHandlerReturns(t *testing.T) {
	fc := newFakeConn()
	fu := &fakeUpgrader{conn: fc}
	ss := newStreamTestServer(t, newStreamTestConfig(t, false), fu)

	fc.incoming <- wsFrame{messageType: websocket.BinaryMessage, data: streamTestPNG(t)}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	ss.handleWebSocket(rec, req)
	// 模拟ServeHTTP返回：请求上下文立即取消
	cancel()

	var resp frameResponse
	if err := json.Unmarshal(waitForFrame(t, fc), &resp); err != nil {
		t.Fatalf("解析回写结果失败: %v", err)
	}
	if !resp.Success {
		t.Fatalf("分类失败: %s", resp.Message)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("结果类型 = %T", resp.Result)
	}
	if result["category_id"] != "recyclable" {
		t.Errorf("category_id = %v, want recyclable", result["category_id"])
	}

	fc.Close()
}

func TestTextPingPong(t *testing.T) {
	fc := newFakeConn()
	fu := &fakeUpgrader{conn: fc}
	ss := newStreamTestServer(t, newStreamTestConfig(t, false), fu)

	fc.incoming <- wsFrame{messageType: websocket.TextMessage, data: []byte("ping")}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ss.handleWebSocket(httptest.NewRecorder(), req)

	if got := string(waitForFrame(t, fc)); got != "pong" {
		t.Errorf("回复 = %q, want pong", got)
	}
	fc.Close()
}

func TestUpgradeRejectsMissingToken(t *testing.T) {
	fc := newFakeConn()
	fu := &fakeUpgrader{conn: fc}
	ss := newStreamTestServer(t, newStreamTestConfig(t, true), fu)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ss.handleWebSocket(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("状态码 = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if fu.upgrades != 0 {
		t.Errorf("未认证的请求不应升级连接, upgrades = %d", fu.upgrades)
	}
}

func TestUpgradeRejectsDeviceMismatch(t *testing.T) {
	cfg := newStreamTestConfig(t, true)
	fc := newFakeConn()
	fu := &fakeUpgrader{conn: fc}
	ss := newStreamTestServer(t, cfg, fu)

	token, err := auth.NewAuthToken(cfg.Server.Auth.Secret).GenerateToken("device-a")
	if err != nil {
		t.Fatalf("生成token失败: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Device-Id", "device-b")
	rec := httptest.NewRecorder()
	ss.handleWebSocket(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("状态码 = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if fu.upgrades != 0 {
		t.Errorf("设备ID不匹配的请求不应升级连接, upgrades = %d", fu.upgrades)
	}
}

func TestUpgradeAcceptsValidToken(t *testing.T) {
	cfg := newStreamTestConfig(t, true)
	fc := newFakeConn()
	fu := &fakeUpgrader{conn: fc}
	ss := newStreamTestServer(t, cfg, fu)

	token, err := auth.NewAuthToken(cfg.Server.Auth.Secret).GenerateToken("device-a")
	if err != nil {
		t.Fatalf("生成token失败: %v", err)
	}

	fc.incoming <- wsFrame{messageType: websocket.TextMessage, data: []byte("ping")}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Device-Id", "device-a")
	ss.handleWebSocket(httptest.NewRecorder(), req)

	if fu.upgrades != 1 {
		t.Fatalf("upgrades = %d, want 1", fu.upgrades)
	}
	if got := string(waitForFrame(t, fc)); got != "pong" {
		t.Errorf("回复 = %q, want pong", got)
	}
	fc.Close()
}
