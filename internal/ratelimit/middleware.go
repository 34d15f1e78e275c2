package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// limiterTimeout 限流檢查的逾時（避免 Redis 呼叫拖慢請求）
const limiterTimeout = 100 * time.Millisecond

// Config 限流中介軟體設定
type Config struct {
	// KeyFunc 從請求提取限流 key（預設：客戶端 IP）
	KeyFunc func(r *http.Request) string

	// Limiter 限流器函數
	Limiter LimiterFunc

	// OnRateLimited 限流觸發時的處理（預設：429 JSON）
	OnRateLimited http.HandlerFunc

	Logger *slog.Logger
}

// Middleware 建立限流中介軟體
//
// 錯誤處理 trade-off：限流器後端失敗時放行請求：
// 可用性優先，限流器掛掉不該把整個服務打掛。
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.OnRateLimited == nil {
		cfg.OnRateLimited = defaultRateLimitedHandler
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.KeyFunc(r)

			ctx, cancel := context.WithTimeout(r.Context(), limiterTimeout)
			defer cancel()

			allowed, err := cfg.Limiter(ctx, key)
			if err != nil {
				cfg.Logger.Warn("rate limiter error, allowing request", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				cfg.OnRateLimited(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP 從請求提取客戶端 IP
//
// 反向代理場景優先取 X-Forwarded-For 的第一個值
// （最接近原始客戶端），直連場景取 RemoteAddr 去掉埠號。
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func defaultRateLimitedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
}
