package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/usamasarwar188/BG-Remover/config"
	"github.com/usamasarwar188/BG-Remover/handler"
	"github.com/usamasarwar188/BG-Remover/service"
	"github.com/usamasarwar188/BG-Remover/service/grabcut"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode, cfg.Server.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting BG-Remover server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 初始化Sentry
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     Version,
		}); err != nil {
			utils.Logger.Warn("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化去背景服务
	var remover service.Remover
	switch cfg.Removal.Backend {
	case "grabcut":
		remover = grabcut.New(&cfg.GrabCut)
	default:
		remover = service.NewHTTPRemover(&cfg.Removal)
	}
	utils.Logger.Info("removal backend selected", zap.String("backend", cfg.Removal.Backend))

	// 初始化Redis，连接失败时只使用进程内缓存
	var l2 service.CutoutStore
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, shared cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully")
			l2 = redisService
		}
		defer redisService.Close()
	}

	cached, err := service.NewCachedRemover(remover, &cfg.Cache, l2, cfg.Removal.Timeout)
	if err != nil {
		utils.Logger.Fatal("failed to create cutout cache", zap.Error(err))
	}

	previews := service.NewPreviewRegistry(handler.PreviewBasePath)
	sessions := service.NewSessionManager(&cfg.Session, previews)
	defer sessions.Close()
	go sessions.Run(ctx)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	r := handler.NewRouter(cfg, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		BuildID:   BuildID,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	}, sessions, previews, cached)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			utils.Logger.Warn("server shutdown failed", zap.Error(err))
		}
	}()

	// 启动服务器
	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
	utils.Logger.Info("server stopped")
}
