package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/shortlink/internal/config"
	"github.com/koopa0/shortlink/internal/handler"
	"github.com/koopa0/shortlink/internal/notify"
	"github.com/koopa0/shortlink/internal/ratelimit"
	"github.com/koopa0/shortlink/internal/shortener"
	"github.com/koopa0/shortlink/internal/storage"
	"github.com/koopa0/shortlink/internal/storage/migrations"
)

// main 函數：應用程序入口
//
// 依賴初始化順序：配置 → 日誌 → 存儲 → 推送通道 → 限流 → 服務 → HTTP。
// 存儲是顯式建構、注入到服務的實例，沒有全域可變狀態。
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 1. 讀取配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日誌
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "addr", cfg.Server.Addr, "storage", cfg.Storage.Backend)

	ctx := context.Background()

	// 3. 創建存儲層
	//
	// 預設 Memory（本規模的正確選擇：零依賴、單機、重啟即清空）；
	// 配置了 postgres 時切換到持久化後端並先跑遷移。
	var store shortener.Store
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := connectPostgres(ctx, cfg.Storage.PostgresDSN, logger)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = storage.NewPostgres(pool)
	default:
		store = storage.NewMemory()
	}
	logger.Info("storage initialized", "type", cfg.Storage.Backend)

	// 4. 創建推送通道
	//
	// Hub 對連到本實例的 WebSocket 監聽者廣播；
	// 配置了 NATS 時事件同時鏡像到 NATS（跨實例扇出）。
	hub := notify.NewHub(logger)
	defer hub.Stop()

	var publisher shortener.Publisher = hub
	if cfg.NATS.URL != "" {
		bridge, err := notify.NewNATSBridge(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
		publisher = notify.Fanout{hub, bridge}
	}

	// 5. 創建服務層與限流
	svc := shortener.New(store, shortener.RandomCode, publisher, logger)
	limited := buildRateLimiter(cfg, logger)

	// 6. 設置 HTTP Server
	h := handler.New(svc, hub, limited, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	// 7. 啟動服務器（非阻塞），主 goroutine 等待終止信號
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", "signal", sig.String())

	// 8. 優雅關閉：停止接受新請求，等待現有請求完成（帶超時）
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped gracefully")
}

// newLogger 按配置建立結構化日誌
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// connectPostgres 建立連接池並執行遷移
func connectPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	migrator, err := migrations.New(dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		return nil, err
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("close migrator failed", "error", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("database connected")
	return pool, nil
}

// buildRateLimiter 按配置建立限流中間件
//
// 配置了 Redis 時使用分散式令牌桶（多實例共享配額），
// 否則使用本地 per-IP 令牌桶。關閉限流時返回 nil（不套中間件）。
func buildRateLimiter(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if !cfg.RateLimit.Enabled {
		return nil
	}

	var limiter ratelimit.LimiterFunc
	if cfg.RateLimit.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		limiter = ratelimit.NewDistributedTokenBucket(client,
			cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate).Allow
		logger.Info("rate limiter initialized", "type", "distributed", "redis", cfg.RateLimit.RedisAddr)
	} else {
		limiter = ratelimit.NewPerKey(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate).Allow
		logger.Info("rate limiter initialized", "type", "local")
	}

	return ratelimit.Middleware(ratelimit.Config{
		KeyFunc: func(r *http.Request) string {
			return "ip:" + ratelimit.ClientIP(r)
		},
		Limiter: limiter,
		Logger:  logger,
	})
}
