package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/configs/database"
	cfgserver "waste-vision-go/src/configs/server"
	"waste-vision-go/src/core/classifier"
	"waste-vision-go/src/core/pool"
	"waste-vision-go/src/core/taxonomy"
	"waste-vision-go/src/core/utils"
	"waste-vision-go/src/mcp"
	"waste-vision-go/src/sorting"
	"waste-vision-go/src/stream"
	"waste-vision-go/src/task"

	// 导入所有providers以确保init函数被调用
	_ "waste-vision-go/src/core/providers/cnn/modelserve"
	_ "waste-vision-go/src/core/providers/cnn/opencv"
	_ "waste-vision-go/src/core/providers/embed/clipserver"
	_ "waste-vision-go/src/core/providers/embed/openai"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// 初始化日志系统
	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))

	return config, logger, nil
}

// buildClassifier 组装分类核心：类别表 -> 资源池 -> 连通性检查 -> 分类器
func buildClassifier(ctx context.Context, config *configs.Config, logger *utils.Logger) (*classifier.Classifier, *pool.PoolManager, error) {
	embedEnabled := config.SelectedModule["Embed"] != ""
	registry, err := taxonomy.NewRegistry(config.Taxonomy, embedEnabled)
	if err != nil {
		return nil, nil, fmt.Errorf("加载类别表失败: %w", err)
	}
	logger.FormatInfo("类别表加载成功，共 %d 个类别", registry.Size())

	pools, err := pool.NewPoolManager(config, registry, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化资源池失败: %w", err)
	}

	// 启动前把测试图推过完整链路，尽早暴露模型配置问题
	checker := pool.NewHealthChecker(pool.ConfigFromYAML(&config.ConnectivityCheck), registry, logger)
	set, err := pools.GetScorerSet()
	if err != nil {
		pools.Close()
		return nil, nil, fmt.Errorf("获取模型适配器失败: %w", err)
	}
	checkErr := checker.CheckScorerSet(ctx, set)
	pools.ReturnScorerSet(set)
	if checkErr != nil {
		pools.Close()
		return nil, nil, checkErr
	}

	return classifier.NewClassifier(pools, registry, config, logger), pools, nil
}

func StartStreamServer(config *configs.Config, cls *classifier.Classifier, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*stream.StreamServer, error) {
	streamServer, err := stream.NewStreamServer(config, cls, logger)
	if err != nil {
		return nil, err
	}

	g.Go(func() error {
		// 监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭实时分类服务...")
			if err := streamServer.Stop(); err != nil {
				logger.Error("实时分类服务关闭失败", err)
			} else {
				logger.Info("实时分类服务已优雅关闭")
			}
		}()

		if err := streamServer.Start(groupCtx); err != nil {
			if groupCtx.Err() != nil {
				return nil // 正常关闭
			}
			logger.Error("实时分类服务运行失败", err)
			return err
		}
		return nil
	})

	logger.Info("实时分类服务已成功启动")
	return streamServer, nil
}

func StartHttpServer(config *configs.Config, cls *classifier.Classifier, taskMgr *task.TaskManager, db *gorm.DB, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	// 初始化Gin引擎
	if config.Log.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.SetTrustedProxies([]string{"0.0.0.0"})

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")

	// 启动Cfg服务
	cfgService, err := cfgserver.NewDefaultCfgService(config, cls.Registry(), logger)
	if err != nil {
		logger.Error("Cfg 服务初始化失败 %v", err)
		return nil, err
	}
	if err := cfgService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error("Cfg 服务启动失败", err)
		return nil, err
	}

	// 启动分拣服务
	sortingService, err := sorting.NewDefaultSortingService(config, cls, taskMgr, db, logger)
	if err != nil {
		logger.Error("分拣服务初始化失败 %v", err)
		return nil, err
	}
	if err := sortingService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error("分拣服务启动失败", err)
		return nil, err
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Web.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Gin 服务已启动，访问地址: http://0.0.0.0:%d", config.Web.Port))

		// 在单独的 goroutine 中监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			// 创建关闭超时上下文
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP服务关闭失败", err)
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 服务启动失败", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func GracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group) {
	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// 等待信号
	sig := <-sigChan
	logger.Info(fmt.Sprintf("接收到系统信号: %v，开始优雅关闭服务", sig))

	// 取消上下文，通知所有服务开始关闭
	cancel()

	// 等待所有服务关闭，设置超时保护
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("服务关闭过程中出现错误", err)
			os.Exit(1)
		}
		logger.Info("所有服务已优雅关闭")
	case <-time.After(15 * time.Second):
		logger.Error("服务关闭超时，强制退出")
		os.Exit(1)
	}
}

func main() {
	mcpMode := flag.Bool("mcp", false, "以MCP工具服务器模式运行（stdio）")
	flag.Parse()

	// 加载配置和初始化日志系统
	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置或初始化日志系统失败:", err)
		os.Exit(1)
	}

	// 加载 .env 文件
	err = godotenv.Load()
	if err != nil {
		logger.Warn("未找到 .env 文件，使用系统环境变量")
	}

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 组装分类核心
	cls, pools, err := buildClassifier(ctx, config, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("初始化分类器失败: %v", err))
		os.Exit(1)
	}
	defer pools.Close()

	// MCP工具模式：stdio协议循环，不启动网络服务
	if *mcpMode {
		if err := mcp.NewServer(cls, logger).ServeStdio(); err != nil {
			logger.Error(fmt.Sprintf("MCP服务运行失败: %v", err))
			os.Exit(1)
		}
		return
	}

	// 初始化数据库连接（未配置DATABASE_URL时分类记录不落库）
	db, dbType, err := database.InitDB()
	if err != nil {
		logger.Error(fmt.Sprintf("数据库连接失败: %v", err))
		os.Exit(1)
	}
	if db != nil {
		logger.FormatInfo("数据库连接成功，类型: %s", dbType)
	}

	// 启动任务管理器
	taskMgr := task.NewTaskManager(task.ResourceConfig{
		MaxWorkers:        config.Task.MaxWorkers,
		MaxTasksPerClient: config.Task.MaxTasksPerClient,
	})
	taskMgr.Start()
	defer taskMgr.Stop()

	// 用 errgroup 管理两个服务
	g, groupCtx := errgroup.WithContext(ctx)

	// 启动实时分类 WebSocket 服务
	if _, err := StartStreamServer(config, cls, logger, g, groupCtx); err != nil {
		logger.Error(fmt.Sprintf("启动实时分类服务失败: %v", err))
		cancel()
		os.Exit(1)
	}

	// 启动 Http 服务
	if _, err := StartHttpServer(config, cls, taskMgr, db, logger, g, groupCtx); err != nil {
		logger.Error(fmt.Sprintf("启动 Http 服务失败: %v", err))
		cancel()
		os.Exit(1)
	}

	// 启动优雅关机处理
	GracefulShutdown(cancel, logger, g)

	logger.Info("程序已成功退出")
}
