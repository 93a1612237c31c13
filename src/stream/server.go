package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/auth"
	"waste-vision-go/src/core/classifier"
	coreimg "waste-vision-go/src/core/image"
	"waste-vision-go/src/core/utils"

	"github.com/gorilla/websocket"
)

// StreamServer 实时分类WebSocket服务器
// 分拣线相机以二进制帧推送图片，每帧原地分类后回写JSON决策，
// 连接之间互不影响，单帧失败只回错误消息不断开连接
type StreamServer struct {
	config     *configs.Config
	server     *http.Server
	upgrader   Upgrader
	logger     *utils.Logger
	classifier *classifier.Classifier
	authToken  *auth.AuthToken

	// 连接循环使用的基准上下文，随服务器生命周期取消
	baseCtx context.Context

	activeConnections sync.Map
}

// Upgrader WebSocket升级器接口
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error)
}

// Conn WebSocket连接接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// frameResponse 单帧分类结果
type frameResponse struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Message string      `json:"message,omitempty"`
}

// NewStreamServer 创建实时分类服务器
func NewStreamServer(config *configs.Config, cls *classifier.Classifier, logger *utils.Logger) (*StreamServer, error) {
	ss := &StreamServer{
		config:     config,
		logger:     logger,
		upgrader:   NewDefaultUpgrader(),
		classifier: cls,
		baseCtx:    context.Background(),
	}
	if config.Server.Auth.Enabled {
		ss.authToken = auth.NewAuthToken(config.Server.Auth.Secret)
	}
	return ss, nil
}

// Start 启动WebSocket服务器
func (ss *StreamServer) Start(ctx context.Context) error {
	ss.baseCtx = ctx

	addr := fmt.Sprintf("%s:%d", ss.config.Server.IP, ss.config.Server.Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/", ss.handleWebSocket)

	ss.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	ss.logger.Info(fmt.Sprintf("正在启动实时分类服务器于 ws://%s...", addr))

	// 启动服务器关闭监控
	go func() {
		<-ctx.Done()
		ss.logger.Info("收到关闭信号，准备关闭服务器...")
		if err := ss.Stop(); err != nil {
			ss.logger.Error(fmt.Sprintf("服务器关闭时出错: %v", err))
		}
	}()

	if err := ss.server.ListenAndServe(); err != nil {
		if err == http.ErrServerClosed {
			ss.logger.Info("服务器已正常关闭")
			return nil
		}
		ss.logger.Error(fmt.Sprintf("服务器启动失败: %v", err))
		return fmt.Errorf("服务器启动失败: %v", err)
	}

	return nil
}

// Stop 停止WebSocket服务器
func (ss *StreamServer) Stop() error {
	if ss.server != nil {
		ss.logger.Info("正在关闭实时分类服务器...")

		// 关闭所有活动连接
		ss.activeConnections.Range(func(key, value interface{}) bool {
			if conn, ok := value.(Conn); ok {
				conn.Close()
			}
			return true
		})

		if err := ss.server.Close(); err != nil {
			return fmt.Errorf("服务器关闭失败: %v", err)
		}
	}
	return nil
}

// handleWebSocket 处理WebSocket连接
func (ss *StreamServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if ss.authToken != nil {
		if err := ss.verifyAuth(r); err != nil {
			ss.logger.Warn(fmt.Sprintf("WebSocket连接认证失败: %v", err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := ss.upgrader.Upgrade(w, r)
	if err != nil {
		ss.logger.Error(fmt.Sprintf("WebSocket升级失败: %v", err))
		return
	}

	clientID := fmt.Sprintf("%p", conn)
	ss.activeConnections.Store(clientID, conn)

	// 升级处理函数返回后请求上下文立即被取消，
	// 连接循环必须使用服务器生命周期的上下文
	go ss.handleConnection(ss.baseCtx, clientID, conn)
}

// verifyAuth 校验Bearer token并匹配设备ID
func (ss *StreamServer) verifyAuth(r *http.Request) error {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("缺少认证token")
	}

	isValid, deviceID, err := ss.authToken.VerifyToken(authHeader[7:])
	if err != nil || !isValid {
		return fmt.Errorf("无效的认证token或token已过期")
	}

	if requestDeviceID := r.Header.Get("Device-Id"); requestDeviceID != deviceID {
		return fmt.Errorf("设备ID与token不匹配: 请求设备ID=%s, token设备ID=%s", requestDeviceID, deviceID)
	}

	return nil
}

// handleConnection 单连接读写循环，每个二进制帧做一次完整分类
func (ss *StreamServer) handleConnection(ctx context.Context, clientID string, conn Conn) {
	defer func() {
		conn.Close()
		ss.activeConnections.Delete(clientID)
		ss.logger.Info(fmt.Sprintf("连接 %s 已关闭", clientID))
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			ss.handleFrame(ctx, conn, payload)
		case websocket.TextMessage:
			// 文本帧只支持ping探活
			if strings.TrimSpace(string(payload)) == "ping" {
				conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			}
		}
	}
}

// handleFrame 分类一帧图片并回写结果
func (ss *StreamServer) handleFrame(ctx context.Context, conn Conn, payload []byte) {
	decision, err := ss.classifier.Classify(ctx, coreimg.ImageData{Raw: payload})

	var resp frameResponse
	if err != nil {
		resp = frameResponse{Success: false, Message: err.Error()}
	} else {
		resp = frameResponse{Success: true, Result: decision}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		ss.logger.Error(fmt.Sprintf("序列化分类结果失败: %v", err))
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ss.logger.Warn(fmt.Sprintf("回写分类结果失败: %v", err))
	}
}

// defaultUpgrader 默认的WebSocket升级器实现
type defaultUpgrader struct {
	wsUpgrader *websocket.Upgrader
}

// NewDefaultUpgrader 创建默认的WebSocket升级器
func NewDefaultUpgrader() *defaultUpgrader {
	return &defaultUpgrader{
		wsUpgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的连接
			},
		},
	}
}

// Upgrade 实现Upgrader接口
func (u *defaultUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := u.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}
