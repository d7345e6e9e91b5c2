package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rogers-f/estate-workflow/internal/cache"
	"github.com/rogers-f/estate-workflow/internal/config"
	"github.com/rogers-f/estate-workflow/internal/guard"
	"github.com/rogers-f/estate-workflow/internal/ipc"
	"github.com/rogers-f/estate-workflow/internal/store"
	"github.com/rogers-f/estate-workflow/internal/workflow"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-memory application cache")
		return cache.NewMemoryCache(), func() {}, nil
	}
	rc, err := cache.NewRedisCache(redisOptions(cfg.Redis))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis application cache",
		zap.String("addr", cfg.Redis.Addr),
		zap.Duration("ttl", cfg.Redis.TTL))
	return rc, func() { rc.Close() }, nil
}

func redisOptions(rc config.RedisConfig) cache.RedisOptions {
	return cache.RedisOptions{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		TTL:      rc.TTL,
	}
}

// serve runs the API until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	rules, err := cfg.Rules()
	if err != nil {
		return err
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	c, closeCache, err := newCache(cfg, logger)
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	defer closeCache()

	g := guard.NewGuard(db, logger, guard.GuardConfig{RateLimitPerMinute: cfg.RateLimitPerMinute})
	engine := workflow.NewEngine(db, rules, c, g, logger)
	srv := ipc.NewServer(&ipc.Handler{Engine: engine, Logger: logger}, cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("estateflow listening", zap.String("url", ipc.FormatListenURL(cfg.ListenAddr)))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
