package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/client"
	"github.com/TIANLI0/ClearBG/config"
	"github.com/TIANLI0/ClearBG/handler"
	"github.com/TIANLI0/ClearBG/intake"
	"github.com/TIANLI0/ClearBG/middleware"
	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/service"
	"github.com/TIANLI0/ClearBG/session"
	"github.com/TIANLI0/ClearBG/sse"
	"github.com/TIANLI0/ClearBG/utils"
)

const (
	shutdownTimeout = 10 * time.Second
	removePath      = "/api/remove-bg"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the removal proxy and the workspace server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.cfg, staticDir)
		},
	}

	cmd.Flags().StringVar(&staticDir, "static", "./static", "directory with the web page")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, staticDir string) error {
	utils.Logger.Info("starting ClearBG server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	if cfg.Gemini.APIKey == "" {
		return errors.New("gemini api key is required, set GEMINI_API_KEY or gemini.api_key")
	}

	// 初始化Gemini服务
	gemini, err := service.NewGeminiService(ctx, &cfg.Gemini)
	if err != nil {
		return err
	}

	// 初始化Redis，连接失败时不使用缓存
	var cache service.ResultCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully")
			cache = redisService
		}
		defer redisService.Close()
	}

	hub := sse.NewHub()
	go hub.Run(ctx)

	previews := intake.NewPreviewStore()
	proxy := client.NewProxyClient(cfg.Client.ProxyURL, cfg.Client.Timeout)
	manager := session.NewManager(
		intake.New(previews, cfg.Upload.MaxSize),
		proxy,
		sessionOptions(cfg),
		cfg.Session.IdleTTL,
		hub,
	)
	if err := manager.StartSweeper(cfg.Session.SweepSpec); err != nil {
		return fmt.Errorf("invalid session.sweep_spec: %w", err)
	}
	defer manager.Shutdown()

	// 初始化Handler
	proxyColor, _ := model.ParseColor(cfg.Gemini.DefaultColor)
	removeHandler := handler.NewRemoveHandler(gemini, cache, handler.RemoveOptions{
		DefaultColor:   proxyColor,
		MaxImageSize:   cfg.Upload.MaxSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	sessionHandler := handler.NewSessionHandler(manager, previews, hub, cfg.Upload.MaxSize)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)
	// SSE 连接需要长时间写入，WriteTimeout 默认 0 表示不限制
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      newRouter(removeHandler, sessionHandler, staticDir, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	utils.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sessionOptions(cfg *config.Config) session.Options {
	color, err := model.ParseColor(cfg.Session.DefaultColor)
	if err != nil {
		utils.Logger.Warn("invalid session.default_color, using blue", zap.String("color", cfg.Session.DefaultColor))
		color = model.ColorBlue
	}
	return session.Options{
		DefaultColor:  color,
		ProductPrefix: cfg.Session.ProductPrefix,
		PreviewPrefix: "/preview/",
	}
}

func newRouter(removeHandler *handler.RemoveHandler, sessionHandler *handler.SessionHandler, staticDir string, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger("/health"))
	r.Use(middleware.CORS(allowedOrigins))

	// 静态文件服务
	r.Static("/static", staticDir)
	r.StaticFile("/", staticDir+"/index.html")

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// 去背景代理，非 POST 由 handler 返回 405
	r.Any(removePath, removeHandler.RemoveBackground)

	r.GET("/preview/:handle", sessionHandler.Preview)

	// 会话路由
	api := r.Group("/api/v1")
	{
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.DELETE("/sessions/:id", sessionHandler.Delete)
		api.POST("/sessions/:id/image", sessionHandler.UploadImage)
		api.POST("/sessions/:id/color", sessionHandler.ChangeColor)
		api.POST("/sessions/:id/retry", sessionHandler.Retry)
		api.POST("/sessions/:id/reset", sessionHandler.Reset)
		api.GET("/sessions/:id/download", sessionHandler.Download)
		api.GET("/sessions/:id/events", sessionHandler.Events)
	}

	return r
}
