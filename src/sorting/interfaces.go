package sorting

import (
	"context"

	"github.com/gin-gonic/gin"
)

// SortingService 定义分拣服务接口
type SortingService interface {
	// 将分拣相关的路由注册到 engine 与 apiGroup
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}
