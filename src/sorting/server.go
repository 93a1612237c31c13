package sorting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/auth"
	"waste-vision-go/src/core/classifier"
	coreimg "waste-vision-go/src/core/image"
	"waste-vision-go/src/core/types"
	"waste-vision-go/src/core/utils"
	"waste-vision-go/src/models"
	"waste-vision-go/src/task"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	// 最大文件大小为5MB
	MAX_FILE_SIZE = 5 * 1024 * 1024

	// 单个请求等待分类结果的最长时间
	resultWaitTimeout = 60 * time.Second
)

type DefaultSortingService struct {
	logger     *utils.Logger
	config     *configs.Config
	classifier *classifier.Classifier
	taskMgr    *task.TaskManager
	authToken  *auth.AuthToken
	db         *gorm.DB
}

// NewDefaultSortingService 构造函数，同时注册分类任务执行器
func NewDefaultSortingService(config *configs.Config, cls *classifier.Classifier, taskMgr *task.TaskManager, db *gorm.DB, logger *utils.Logger) (*DefaultSortingService, error) {
	service := &DefaultSortingService{
		logger:     logger,
		config:     config,
		classifier: cls,
		taskMgr:    taskMgr,
		db:         db,
	}

	if config.Server.Auth.Enabled {
		service.authToken = auth.NewAuthToken(config.Server.Auth.Secret)
	}

	task.RegisterTaskExecutor(task.TaskTypeClassify, service.executeClassifyTask)

	return service, nil
}

// executeClassifyTask 分类任务执行器，由工作池调用
func (s *DefaultSortingService) executeClassifyTask(t *task.Task) error {
	params, ok := t.Params.(task.ClassifyParams)
	if !ok {
		return fmt.Errorf("分类任务参数类型错误: %T", t.Params)
	}

	decision, err := s.classifier.Classify(t.Context, params.Image)
	if err != nil {
		return err
	}

	t.Result = decision
	return nil
}

// Start 实现 SortingService 接口，注册所有分拣相关路由
func (s *DefaultSortingService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.GET("/classify", s.handleGet)
	apiGroup.POST("/classify", s.handlePost)
	apiGroup.OPTIONS("/classify", s.handleOptions)

	// 复核接口依赖数据库，未配置数据库时不注册
	if s.db != nil {
		apiGroup.POST("/review", s.handleReviewPost)
		apiGroup.GET("/review/pending", s.handleReviewPending)
		apiGroup.OPTIONS("/review", s.handleOptions)
	}

	s.logger.Info("分拣HTTP服务路由注册完成")
	return nil
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *DefaultSortingService) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleGet 处理GET请求（状态检查）
func (s *DefaultSortingService) handleGet(c *gin.Context) {
	s.addCORSHeaders(c)

	metrics := s.classifier.Metrics()
	message := fmt.Sprintf("分类接口运行正常，类别数 %d，累计处理 %d 张图片",
		s.classifier.Registry().Size(), metrics.TotalProcessed)
	c.String(http.StatusOK, message)
}

// handlePost 处理POST请求（图片分类）
func (s *DefaultSortingService) handlePost(c *gin.Context) {
	s.addCORSHeaders(c)

	deviceID := c.GetHeader("Device-Id")

	// 验证认证
	if s.authToken != nil {
		authResult, err := s.verifyAuth(c)
		if err != nil {
			s.respondError(c, http.StatusUnauthorized, err.Error())
			s.logger.Warn(fmt.Sprintf("分类请求认证失败: %v", err))
			return
		}
		if !authResult.IsValid {
			s.respondError(c, http.StatusUnauthorized, "无效的认证token或设备ID不匹配")
			return
		}
	}

	// 解析multipart表单
	req, err := s.parseMultipartRequest(c, deviceID)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		s.logger.Warn(fmt.Sprintf("分类请求解析失败: %v", err))
		return
	}

	s.logger.Debug("收到分类请求", map[string]interface{}{
		"device_id":  req.DeviceID,
		"client_id":  req.ClientID,
		"format":     req.Format,
		"image_size": len(req.Image),
		"image_path": req.ImagePath,
	})

	decision, err := s.processClassifyRequest(c.Request.Context(), req)
	if err != nil {
		status := statusForError(err)
		s.respondError(c, status, err.Error())
		s.logger.Warn(fmt.Sprintf("分类请求处理失败: %v", err))
		return
	}

	s.saveRecord(req, decision)

	c.JSON(http.StatusOK, ClassifyResponse{
		Success: true,
		Result:  decision,
	})
}

// verifyAuth 验证认证token
func (s *DefaultSortingService) verifyAuth(c *gin.Context) (*AuthVerifyResult, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, fmt.Errorf("无效的认证token或token已过期")
	}

	token := authHeader[7:] // 移除"Bearer "前缀

	isValid, deviceID, err := s.authToken.VerifyToken(token)
	if err != nil || !isValid {
		return nil, fmt.Errorf("无效的认证token或token已过期")
	}

	// 检查设备ID匹配
	requestDeviceID := c.GetHeader("Device-Id")
	if requestDeviceID != deviceID {
		s.logger.Warn(fmt.Sprintf("设备ID与token不匹配: 请求设备ID=%s, token设备ID=%s", requestDeviceID, deviceID))
		return nil, fmt.Errorf("设备ID与token不匹配")
	}

	return &AuthVerifyResult{
		IsValid:  true,
		DeviceID: deviceID,
	}, nil
}

// parseMultipartRequest 解析multipart表单请求
func (s *DefaultSortingService) parseMultipartRequest(c *gin.Context, deviceID string) (*ClassifyRequest, error) {
	if err := c.Request.ParseMultipartForm(MAX_FILE_SIZE); err != nil {
		return nil, fmt.Errorf("解析multipart表单失败: %v", err)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("缺少图片文件: %v", err)
	}
	defer file.Close()

	if header.Size > MAX_FILE_SIZE {
		return nil, fmt.Errorf("图片大小超过限制，最大允许%dMB", MAX_FILE_SIZE/1024/1024)
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取图片数据失败: %v", err)
	}

	if len(imageData) == 0 {
		return nil, fmt.Errorf("图片数据为空")
	}

	// 文件头快速校验，深度校验在分类管线内完成
	format := detectImageFormat(imageData)
	if format == "" {
		return nil, fmt.Errorf("不支持的文件格式，请上传有效的图片文件（支持JPEG、PNG、GIF、BMP、WEBP格式）")
	}

	// 配置了上传目录时将图片落盘
	imagePath := ""
	if s.config.UploadDir != "" {
		imagePath, err = s.saveImageToFile(imageData, deviceID, format)
		if err != nil {
			return nil, fmt.Errorf("保存图片文件失败: %v", err)
		}
	}

	return &ClassifyRequest{
		Image:     imageData,
		Format:    format,
		DeviceID:  deviceID,
		ClientID:  c.GetHeader("Client-Id"),
		ImagePath: imagePath,
	}, nil
}

func (s *DefaultSortingService) saveImageToFile(imageData []byte, deviceID, format string) (string, error) {
	// 生成唯一的文件名
	deviceIDFormat := strings.ReplaceAll(deviceID, ":", "_")
	filename := fmt.Sprintf("%s_%d.%s", deviceIDFormat, time.Now().UnixNano(), format)
	path := filepath.Join(s.config.UploadDir, filename)

	if err := os.MkdirAll(s.config.UploadDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("创建上传目录失败: %v", err)
	}

	if err := os.WriteFile(path, imageData, 0644); err != nil {
		return "", fmt.Errorf("保存图片文件失败: %v", err)
	}

	return path, nil
}

// processClassifyRequest 提交分类任务并等待结果
func (s *DefaultSortingService) processClassifyRequest(ctx context.Context, req *ClassifyRequest) (*types.ClassificationDecision, error) {
	clientID := req.ClientID
	if clientID == "" {
		clientID = req.DeviceID
	}
	if clientID == "" {
		clientID = "anonymous"
	}

	cb := task.NewResultCallback()
	t, _ := task.NewTask(ctx, task.TaskTypeClassify, task.ClassifyParams{
		Image: coreimg.ImageData{
			Raw:    req.Image,
			Format: req.Format,
		},
	})
	t.Callback = cb

	if err := s.taskMgr.SubmitTask(clientID, t); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(resultWaitTimeout):
		return nil, fmt.Errorf("等待分类结果超时")
	case result := <-cb.Result():
		switch v := result.(type) {
		case *types.ClassificationDecision:
			return v, nil
		case error:
			return nil, v
		default:
			return nil, fmt.Errorf("未知的任务结果类型: %T", result)
		}
	}
}

// saveRecord 将成功的分类决策保存到数据库（审计用）
func (s *DefaultSortingService) saveRecord(req *ClassifyRequest, decision *types.ClassificationDecision) {
	if s.db == nil {
		return
	}

	cnnJSON, _ := json.Marshal(decision.CNNScores)
	embedJSON, _ := json.Marshal(decision.EmbedScores)

	record := models.ClassificationRecord{
		DeviceID:      req.DeviceID,
		ClientID:      req.ClientID,
		CategoryID:    decision.CategoryID,
		Label:         decision.Label,
		Confidence:    decision.Confidence,
		LowConfidence: decision.LowConfidence,
		CNNScores:     cnnJSON,
		EmbedScores:   embedJSON,
		ElapsedMs:     decision.ElapsedMs,
		ImagePath:     req.ImagePath,
	}

	if err := s.db.Create(&record).Error; err != nil {
		s.logger.Warn(fmt.Sprintf("保存分类记录失败: %v", err))
	}

	if err := touchDevice(s.db, req.DeviceID); err != nil {
		s.logger.Warn(fmt.Sprintf("更新设备活跃时间失败: %v", err))
	}
}

// statusForError 错误分类到HTTP状态码
func statusForError(err error) int {
	var invalidImage *types.InvalidImageError
	var unavailable *types.ModelUnavailableError

	switch {
	case errors.As(err, &invalidImage):
		return http.StatusBadRequest
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// detectImageFormat 根据文件头检测图片格式，未知格式返回空串
func detectImageFormat(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "jpeg"
	case len(data) >= 8 &&
		data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 &&
		data[4] == 0x0D && data[5] == 0x0A && data[6] == 0x1A && data[7] == 0x0A:
		return "png"
	case len(data) >= 6 &&
		data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 &&
		(data[4] == 0x37 || data[4] == 0x39) && data[5] == 0x61:
		return "gif"
	case len(data) >= 2 && data[0] == 0x42 && data[1] == 0x4D:
		return "bmp"
	case len(data) >= 12 &&
		data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50:
		return "webp"
	default:
		return ""
	}
}

// addCORSHeaders 添加CORS头
func (s *DefaultSortingService) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Headers", "client-id, content-type, device-id, authorization")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

// respondError 返回错误响应
func (s *DefaultSortingService) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ClassifyResponse{
		Success: false,
		Message: message,
	})
}
