package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/optigate/api"
	"github.com/Aidin1998/optigate/internal/auth"
	"github.com/Aidin1998/optigate/internal/backend"
	"github.com/Aidin1998/optigate/internal/cache"
	"github.com/Aidin1998/optigate/internal/config"
	"github.com/Aidin1998/optigate/internal/history"
	"github.com/Aidin1998/optigate/internal/optimizer"
	"github.com/Aidin1998/optigate/internal/prompt"
	"github.com/Aidin1998/optigate/internal/ratelimit"
	"github.com/Aidin1998/optigate/internal/tracing"
	"github.com/Aidin1998/optigate/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	bootLogger, err := logger.NewLogger(os.Getenv("LOG_LEVEL"), "json")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg, err := config.Load(*configPath, bootLogger)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		bootLogger.Fatal("Failed to create logger", zap.Error(err))
	}
	defer zapLogger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Gateway stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			zapLogger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	generator, err := backend.New(cfg.Backend, zapLogger)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	if cfg.Breaker.Enabled {
		generator = backend.WithBreaker(generator, cfg.Breaker.BreakerConfig, zapLogger)
	}

	var redisClient *redis.Client
	if cfg.RateLimit.Store == config.StoreRedis || (cfg.Cache.Enabled && cfg.Cache.Shared) {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis not reachable at startup", zap.String("addr", cfg.Redis.Address), zap.Error(err))
		}
	}

	limiter, err := newLimiter(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	failureMode, err := ratelimit.ParseFailureMode(cfg.RateLimit.FailureMode)
	if err != nil {
		return err
	}

	opts := optimizer.Options{
		Registry:      prompt.Default(),
		Generator:     generator,
		Limiter:       limiter,
		FailureMode:   failureMode,
		MaxTextLength: cfg.Optimizer.MaxTextLength,
		Logger:        zapLogger,
	}

	if cfg.Cache.Enabled {
		responseCache, err := cache.New(cfg.Cache)
		if err != nil {
			return fmt.Errorf("create cache: %w", err)
		}
		defer responseCache.Close()
		if cfg.Cache.Shared {
			tier := cache.NewSharedTier(redisClient, cfg.Cache.TTL, cfg.Cache.Prefix)
			responseCache.WithShared(tier, func(err error) {
				zapLogger.Warn("Shared cache unavailable", zap.Error(err))
			})
		}
		opts.Cache = responseCache
	}

	var historyReader api.HistoryReader
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History, zapLogger)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		opts.History = store
		historyReader = store
	}

	resolver, err := auth.NewResolver(cfg.Auth)
	if err != nil {
		return fmt.Errorf("create identity resolver: %w", err)
	}

	svc, err := optimizer.New(opts)
	if err != nil {
		return fmt.Errorf("create optimizer: %w", err)
	}

	server := api.NewServer(api.Options{
		Logger:         zapLogger,
		Optimizer:      svc,
		Resolver:       resolver,
		History:        historyReader,
		ServiceName:    cfg.Tracing.ServiceName,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("Starting gateway",
			zap.String("addr", httpServer.Addr),
			zap.String("backend", string(generator.Kind())),
			zap.String("rate_limit_store", cfg.RateLimit.Store))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-quit:
		zapLogger.Info("Shutting down gateway", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	zapLogger.Info("Gateway stopped")
	return nil
}

// newLimiter builds the configured rate limiter store. The in-memory store
// gets a janitor that drops idle client windows.
func newLimiter(ctx context.Context, cfg *config.Config, client *redis.Client) (ratelimit.Limiter, error) {
	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		return ratelimit.NewRedisLimiter(client, cfg.RateLimit.MaxCalls, cfg.RateLimit.Window, cfg.Redis.Prefix)
	default:
		sw, err := ratelimit.NewSlidingWindow(cfg.RateLimit.MaxCalls, cfg.RateLimit.Window)
		if err != nil {
			return nil, err
		}
		if cfg.RateLimit.SweepInterval > 0 {
			go sw.Run(ctx, cfg.RateLimit.SweepInterval)
		}
		return sw, nil
	}
}
