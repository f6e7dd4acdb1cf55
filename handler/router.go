package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/usamasarwar188/BG-Remover/config"
	"github.com/usamasarwar188/BG-Remover/middleware"
	"github.com/usamasarwar188/BG-Remover/service"
)

// PreviewBasePath 背景图预览句柄的访问前缀
const PreviewBasePath = "/api/v1/previews/"

// BuildInfo 版本信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	BuildID   string `json:"build_id"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}

// NewRouter 注册所有路由
func NewRouter(cfg *config.Config, info BuildInfo, sessions *service.SessionManager, previews *service.PreviewRegistry, remover service.Remover) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.AllowOrigins))
	r.MaxMultipartMemory = cfg.Upload.MaxSize

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  info.Version,
			"sessions": sessions.Len(),
		})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})

	sessionHandler := NewSessionHandler(cfg, sessions, remover)
	previewHandler := NewPreviewHandler(previews)

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.DELETE("/sessions/:id", sessionHandler.Delete)
		api.POST("/sessions/:id/foreground", sessionHandler.UploadForeground)
		api.GET("/sessions/:id/foreground", sessionHandler.Foreground)
		api.PATCH("/sessions/:id/background", sessionHandler.UpdateBackground)
		api.POST("/sessions/:id/background/image", sessionHandler.UploadBackgroundImage)
		api.DELETE("/sessions/:id/background/image", sessionHandler.ClearBackgroundImage)
		api.GET("/sessions/:id/preview", sessionHandler.Preview)
		api.GET("/sessions/:id/export", sessionHandler.Export)
		api.GET("/sessions/:id/live", sessionHandler.Live)
		api.GET("/previews/:id", previewHandler.Get)
	}

	return r
}
