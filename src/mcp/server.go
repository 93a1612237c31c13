package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"waste-vision-go/src/core/classifier"
	coreimg "waste-vision-go/src/core/image"
	"waste-vision-go/src/core/utils"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server MCP工具服务器，通过stdio暴露分类能力
// 智能助理类客户端以工具调用的方式对本地图片做垃圾分类
type Server struct {
	mcpServer  *server.MCPServer
	classifier *classifier.Classifier
	logger     *utils.Logger
}

// NewServer 创建MCP工具服务器并注册分类工具
func NewServer(cls *classifier.Classifier, logger *utils.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"waste-vision",
			"1.0.0",
			server.WithToolCapabilities(false),
		),
		classifier: cls,
		logger:     logger,
	}

	classifyTool := mcp.NewTool("classify_waste",
		mcp.WithDescription("对一张垃圾图片做分类，返回类别、置信度和各模型原始得分"),
		mcp.WithString("image_path",
			mcp.Required(),
			mcp.Description("本地图片文件路径，支持JPEG、PNG、GIF、BMP、WEBP"),
		),
	)
	s.mcpServer.AddTool(classifyTool, s.handleClassify)

	return s
}

// ServeStdio 在标准输入输出上运行MCP协议循环，阻塞到流关闭
func (s *Server) ServeStdio() error {
	s.logger.Info("MCP工具服务器启动（stdio模式）")
	return server.ServeStdio(s.mcpServer)
}

// handleClassify classify_waste工具处理函数
func (s *Server) handleClassify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imagePath, err := request.RequireString("image_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("读取图片失败: %v", err)), nil
	}

	decision, err := s.classifier.Classify(ctx, coreimg.ImageData{Raw: raw})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("分类失败: %v", err)), nil
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("序列化结果失败: %v", err)), nil
	}

	return mcp.NewToolResultText(string(payload)), nil
}
