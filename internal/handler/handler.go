// Package handler 實現 HTTP 請求處理
//
// 使用 net/http 標準庫（不依賴框架）：
//   - Go 1.22+ 路由：方法路由 + 路徑參數（r.PathValue）
//   - 中間件鏈：logger → recovery → 業務處理
//   - 統一的 JSON 錯誤格式
//
// API 設計：
//   - 重定向端點不带 /api 前綴（短網址應該儘量短）
//   - 管理端點集中在 /api/urls 之下
//   - 推送通道掛在 GET /ws/events
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/shortlink/internal/notify"
	"github.com/koopa0/shortlink/internal/shortener"
)

// 查詢參數政策（傳輸層契約，核心對此無感）
const (
	defaultPageLimit = 50
	maxPageLimit     = 100
	defaultRecent    = 10
	maxRecent        = 100
	maxSearchLength  = 200
)

// Handler HTTP 處理器
type Handler struct {
	service *shortener.Service
	hub     *notify.Hub
	logger  *slog.Logger

	// limited 套在 create / resolve / redirect 這些對外路徑上的
	// 限流中間件；nil 時不限流（例如測試）
	limited func(http.Handler) http.Handler
}

// New 創建 Handler 實例
func New(service *shortener.Service, hub *notify.Hub, limited func(http.Handler) http.Handler, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
		limited: limited,
	}
}

// Routes 設置路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 管理端點
	mux.Handle("POST /api/urls", h.rateLimited(h.withMiddleware(h.create)))
	mux.Handle("GET /api/urls", h.withMiddleware(h.list))
	mux.Handle("GET /api/urls/paged", h.withMiddleware(h.listPaged))
	mux.Handle("GET /api/urls/recent", h.withMiddleware(h.listRecent))
	mux.Handle("GET /api/urls/{code}", h.rateLimited(h.withMiddleware(h.resolve)))
	mux.Handle("DELETE /api/urls/{code}", h.withMiddleware(h.remove))
	mux.Handle("GET /api/urls/{code}/stats", h.withMiddleware(h.stats))

	// 推送通道
	mux.HandleFunc("GET /ws/events", h.hub.ServeWS)

	// 健康檢查
	mux.HandleFunc("GET /health", h.health)

	// 重定向（核心功能，保持路徑最短）
	mux.Handle("GET /{code}", h.rateLimited(h.withMiddleware(h.redirect)))

	return mux
}

func (h *Handler) rateLimited(next http.Handler) http.Handler {
	if h.limited == nil {
		return next
	}
	return h.limited(next)
}

func (h *Handler) withMiddleware(next http.HandlerFunc) http.Handler {
	return h.recovery(h.logRequest(next))
}

// create 創建短網址
//
// API: POST /api/urls
// Body: {"long_url": "https://...", "custom_code": "optional"}
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LongURL    string `json:"long_url"`
		CustomCode string `json:"custom_code,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorJSON(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LongURL == "" {
		h.errorJSON(w, "long_url is required", http.StatusBadRequest)
		return
	}

	entry, err := h.service.Create(r.Context(), req.LongURL, req.CustomCode)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.writeJSON(w, h.entryResponse(r, entry), http.StatusCreated)
}

// redirect 重定向到長網址
//
// API: GET /{code}
// Response: 302 Found, Location: https://...
//
// 使用 302（臨時重定向）而非 301：
// 301 會被瀏覽器快取，後續訪問不經過服務器，無法統計點擊。
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		h.errorJSON(w, "short code required", http.StatusBadRequest)
		return
	}

	longURL, err := h.service.ResolveForRedirect(r.Context(), code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	http.Redirect(w, r, longURL, http.StatusFound)
}

// resolve 解析短碼（計入點擊，返回含聚合統計的完整視圖）
//
// API: GET /api/urls/{code}
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	entry, err := h.service.Resolve(r.Context(), code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.writeJSON(w, h.entryResponse(r, entry), http.StatusOK)
}

// stats 獲取統計信息（不計入點擊）
//
// API: GET /api/urls/{code}/stats
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	entry, err := h.service.Stats(r.Context(), code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.writeJSON(w, map[string]any{
		"short_code": entry.ShortCode,
		"clicks":     entry.Clicks,
		"created_at": entry.CreatedAt.Format(time.RFC3339),
	}, http.StatusOK)
}

// remove 刪除短網址
//
// API: DELETE /api/urls/{code}
func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	if err := h.service.Delete(r.Context(), code); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// list 返回所有記錄
//
// API: GET /api/urls
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListAll(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.writeJSON(w, h.entriesResponse(r, entries), http.StatusOK)
}

// listPaged 分頁列表
//
// API: GET /api/urls/paged?offset=0&limit=50&search=example
//
// 參數政策：offset ≥ 0 預設 0；limit 夾限在 [1,100] 預設 50；
// search 超過長度上限直接拒絕（防止惡意的超長比對字串）。
func (h *Handler) listPaged(w http.ResponseWriter, r *http.Request) {
	offset := parseNonNegative(r.URL.Query().Get("offset"), 0)
	limit := clamp(parseNonNegative(r.URL.Query().Get("limit"), defaultPageLimit), 1, maxPageLimit)

	search := r.URL.Query().Get("search")
	if len(search) > maxSearchLength {
		h.errorJSON(w, "search query too long", http.StatusBadRequest)
		return
	}

	entries, total, err := h.service.ListPaged(r.Context(), offset, limit, search)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.writeJSON(w, map[string]any{
		"total":  total,
		"offset": offset,
		"limit":  limit,
		"urls":   h.entriesResponse(r, entries),
	}, http.StatusOK)
}

// listRecent 最近創建的記錄
//
// API: GET /api/urls/recent?count=10
func (h *Handler) listRecent(w http.ResponseWriter, r *http.Request) {
	count := clamp(parseNonNegative(r.URL.Query().Get("count"), defaultRecent), 1, maxRecent)

	entries, err := h.service.ListRecent(r.Context(), count)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.writeJSON(w, h.entriesResponse(r, entries), http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"status":    "ok",
		"listeners": h.hub.ListenerCount(),
	}, http.StatusOK)
}

// === 響應構建 ===

func (h *Handler) entryResponse(r *http.Request, e *shortener.EntryStats) map[string]any {
	return map[string]any{
		"short_url":    buildShortURL(r, e.ShortCode),
		"short_code":   e.ShortCode,
		"long_url":     e.LongURL,
		"clicks":       e.Clicks,
		"total_clicks": e.TotalClicks,
		"created_at":   e.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) entriesResponse(r *http.Request, entries []shortener.EntryStats) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for i := range entries {
		out = append(out, h.entryResponse(r, &entries[i]))
	}
	return out
}

// respondError 按錯誤類別映射狀態碼
//
// 映射：ErrInvalidInput → 400、ErrCodeExists → 409、ErrNotFound → 404、
// 其他 → 500（細節記日誌，不暴露給調用者）。
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shortener.ErrInvalidInput):
		h.errorJSON(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, shortener.ErrCodeExists):
		h.errorJSON(w, err.Error(), http.StatusConflict)
	case errors.Is(err, shortener.ErrNotFound):
		h.errorJSON(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		h.errorJSON(w, "internal server error", http.StatusInternalServerError)
	}
}

// === 工具函數 ===

func (h *Handler) writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode json failed", "error", err)
	}
}

func (h *Handler) errorJSON(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, map[string]string{"error": message}, status)
}

// buildShortURL 構建完整的短網址
//
// 反向代理場景優先檢查 X-Forwarded-Proto
// （代理到服務是 http，r.TLS 為 nil），直連場景根據 TLS 判斷。
func buildShortURL(r *http.Request, code string) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return scheme + "://" + r.Host + "/" + code
}

func parseNonNegative(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// === 中間件 ===

// logRequest 記錄請求日誌
func (h *Handler) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"ip", r.RemoteAddr,
		)
	}
}

// recovery 恢復 panic，防止單個請求拖垮整個服務
func (h *Handler) recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				h.errorJSON(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 http.ResponseWriter 以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
