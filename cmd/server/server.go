package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/ratelimit"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-dropshare/internal/router"
	"github.com/3Eeeecho/go-dropshare/internal/services/lifecycle"
	"github.com/3Eeeecho/go-dropshare/internal/services/metadata"
	"github.com/3Eeeecho/go-dropshare/internal/services/share"
	"github.com/3Eeeecho/go-dropshare/internal/setup"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
)

// Components 进程内共享的核心组件，serve / sweep / rehash 子命令共用
type Components struct {
	Store        *metadata.Store
	Coordinator  *lifecycle.Coordinator
	ShareService share.ShareService
	Limiter      *ratelimit.Limiter

	closers []setup.Closer
}

// Build 负责构建所有依赖，所有句柄在这里创建一次后显式传递
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{}

	primary, closePrimary, err := setup.InitPrimaryBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize primary metadata backend: %w", err)
	}
	c.closers = append(c.closers, closePrimary)

	fallback, err := setup.InitFallbackBackend(&cfg.Metadata)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open fallback metadata backend: %w", err)
	}
	c.closers = append(c.closers, fallback.Close)

	blobs, err := setup.InitStorage(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	lc := cfg.Lifecycle
	c.Store = metadata.NewStore(primary, fallback, blobs, metadata.Options{
		DefaultTTL:  lc.DefaultTTLDuration(),
		MaxLifetime: time.Duration(lc.MaxTTL) * time.Minute,
		Timeout:     cfg.Metadata.Timeout,
		Guard:       utils.NewPasswordGuard(cfg.Upload.BcryptCost),
	})
	c.Limiter = ratelimit.New(cfg.RateLimit.Grace, nil)
	c.Coordinator = lifecycle.NewCoordinator(c.Store, lifecycle.Options{
		DefaultTTL:     lc.DefaultTTL,
		MinTTL:         lc.MinTTL,
		MaxTTL:         lc.MaxTTL,
		SweepInterval:  lc.SweepInterval,
		SweepRate:      lc.SweepRate,
		ReaperInterval: lc.ReaperInterval,
		MigrateLegacy:  lc.MigrateLegacy,
	}, c.Limiter)
	c.ShareService = share.NewShareService(c.Store, blobs, c.Coordinator, cfg.Upload, cfg.Server.PublicBaseURL)

	logger.Info("核心组件初始化完成",
		zap.String("primary", primary.Name()),
		zap.String("fallback", fallback.Name()),
		zap.String("storage", cfg.Storage.Type))
	return c, nil
}

// Close 等待后台删除结束后按创建的逆序释放资源
func (c *Components) Close() {
	if c.Store != nil {
		c.Store.Wait()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warn("释放资源失败", zap.Error(err))
		}
	}
	c.closers = nil
}

type Server struct {
	components *Components
	httpServer *http.Server
}

// NewServer 在核心组件之上组装 HTTP 服务
func NewServer(cfg *config.Config, c *Components) *Server {
	engine := router.InitRouter(&router.RouterConfig{
		Cfg:          cfg,
		ShareService: c.ShareService,
		Limiter:      c.Limiter,
		Pinger:       c.Store,
	})

	var handler http.Handler = engine
	if cfg.Server.Gzip {
		handler = gzhttp.GzipHandler(engine)
	}

	return &Server{
		components: c,
		httpServer: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Run 启动 HTTP 服务与定时任务，并处理优雅关机
func (s *Server) Run(ctx context.Context, stopChan chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.components.Coordinator.Start(ctx); err != nil {
		return err
	}
	defer s.components.Coordinator.Stop()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Server is running", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// 等待停止信号
	select {
	case <-stopChan:
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	}
	logger.Info("Shutting down server...")

	// 优雅关机
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited gracefully")
	return nil
}
