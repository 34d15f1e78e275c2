package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Service 短網址服務
//
// 無狀態的編排層：每個呼叫都是對 Store 的單發交易，
// 不跨多個存儲操作持有鎖。
//
// Go 慣用法：
//   - 依賴注入（通過構造函數）
//   - 組合而非繼承
//   - 返回具體類型
type Service struct {
	store  Store
	gen    CodeFunc
	events Publisher
	logger *slog.Logger
}

// New 創建服務實例
//
// 參數：
//   - store：存儲層（唯一的共享可變資源）
//   - gen：短碼生成函數（nil 時使用 RandomCode；測試可注入固定序列）
//   - events：推送通道（nil 時不發事件）
func New(store Store, gen CodeFunc, events Publisher, logger *slog.Logger) *Service {
	if gen == nil {
		gen = RandomCode
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		gen:    gen,
		events: events,
		logger: logger,
	}
}

// Create 創建短網址
//
// 核心流程：
//  1. 正規化長網址（失敗即 ErrInvalidInput）
//  2. 自定義短碼：驗證格式後嘗試一次 insert，碰撞即 ErrCodeExists（指名該碼）
//  3. 自動生成：最多 MaxGenerateAttempts 次「生成 → insert」，
//     全部碰撞則以通用訊息失敗（不指名任何碼）
//  4. 發出 created 事件（攜帶含聚合統計的完整記錄）
//
// 為什麼重試在服務層而非生成器？
//   - 生成器本身不保證唯一，唯一性由 Store 的原子 insert 裁決
//   - 重試耗盡代表病態壞運氣、或存儲已接近實際容量
func (s *Service) Create(ctx context.Context, longURL, customCode string) (*EntryStats, error) {
	normalized, err := Normalize(longURL)
	if err != nil {
		return nil, err
	}

	var entry *Entry
	if customCode != "" {
		if !validCustomCode(customCode) {
			return nil, fmt.Errorf("%w: custom code must be %d-%d alphanumeric characters",
				ErrInvalidInput, MinCustomCodeLength, MaxCustomCodeLength)
		}
		e := &Entry{ShortCode: customCode, LongURL: normalized, CreatedAt: time.Now()}
		if err := s.store.Insert(ctx, e); err != nil {
			if errors.Is(err, ErrCodeExists) {
				return nil, fmt.Errorf("%w: %q", ErrCodeExists, customCode)
			}
			return nil, fmt.Errorf("insert: %w", err)
		}
		entry = e
	} else {
		for attempt := 1; attempt <= MaxGenerateAttempts; attempt++ {
			code, genErr := s.gen()
			if genErr != nil {
				return nil, fmt.Errorf("generate code: %w", genErr)
			}
			e := &Entry{ShortCode: code, LongURL: normalized, CreatedAt: time.Now()}
			insErr := s.store.Insert(ctx, e)
			if insErr == nil {
				entry = e
				break
			}
			if !errors.Is(insErr, ErrCodeExists) {
				return nil, fmt.Errorf("insert: %w", insErr)
			}
			s.logger.Info("short code collision, retrying", "code", code, "attempt", attempt)
		}
		if entry == nil {
			return nil, fmt.Errorf("%w: failed to generate unique code", ErrCodeExists)
		}
	}

	enriched, err := s.enrich(ctx, *entry)
	if err != nil {
		return nil, err
	}

	s.publish(Event{
		Kind:    EventCreated,
		Code:    enriched.ShortCode,
		LongURL: enriched.LongURL,
		Entry:   enriched,
		At:      time.Now(),
	})
	return enriched, nil
}

// Resolve 解析短碼並記錄一次點擊
//
// 核心流程：
//  1. 驗證格式、查詢（不存在即 ErrNotFound）
//  2. 原子 increment（若短碼在查詢後被併發刪除，increment 返回 0，
//     良性競賽，照常返回）
//  3. 重算聚合統計（本次 increment 已反映在兄弟掃描中）
//  4. 發出 clicked 事件
func (s *Service) Resolve(ctx context.Context, code string) (*EntryStats, error) {
	entry, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	clicks, err := s.store.IncrementClicks(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("increment clicks: %w", err)
	}
	if clicks > 0 {
		entry.Clicks = clicks
	}

	enriched, err := s.enrich(ctx, *entry)
	if err != nil {
		return nil, err
	}

	s.publish(Event{
		Kind:        EventClicked,
		Code:        enriched.ShortCode,
		LongURL:     enriched.LongURL,
		Clicks:      enriched.Clicks,
		TotalClicks: enriched.TotalClicks,
		At:          time.Now(),
	})
	return enriched, nil
}

// ResolveForRedirect 解析短碼，只返回目的地
//
// 與 Resolve 行為相同（驗證、計數、事件），
// 給只需要 302 跳轉、不需要統計視圖的調用者。
func (s *Service) ResolveForRedirect(ctx context.Context, code string) (string, error) {
	stats, err := s.Resolve(ctx, code)
	if err != nil {
		return "", err
	}
	return stats.LongURL, nil
}

// Stats 獲取統計信息（不增加點擊數）
func (s *Service) Stats(ctx context.Context, code string) (*Entry, error) {
	return s.lookup(ctx, code)
}

// Delete 刪除短網址
//
// 無軟刪除、無歷史保留；成功後發出 deleted 事件。
func (s *Service) Delete(ctx context.Context, code string) error {
	if !validCode(code) {
		return fmt.Errorf("%w: short code must be 1-%d alphanumeric characters",
			ErrInvalidInput, MaxCodeLength)
	}
	if err := s.store.Delete(ctx, code); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete: %w", err)
	}
	s.publish(Event{Kind: EventDeleted, Code: code, At: time.Now()})
	return nil
}

// ListAll 返回所有記錄（含聚合統計）
//
// 聚合計算：對快照做單趟掃描累加 map[longURL]sum，
// 避免每筆記錄各掃一次的 O(n²)。
func (s *Service) ListAll(ctx context.Context) ([]EntryStats, error) {
	entries, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}

	sums := make(map[string]int64, len(entries))
	for _, e := range entries {
		sums[e.LongURL] += e.Clicks
	}

	out := make([]EntryStats, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryStats{Entry: e, TotalClicks: sums[e.LongURL]})
	}
	return out, nil
}

// ListPaged 返回過濾、排序後的一頁記錄與總匹配數
//
// 總數與分頁是兩次獨立的存儲呼叫：
// 即使頁面只是部分結果，分頁控件也能顯示總數。
// 兩次呼叫之間的併發變動是可接受的最佳努力讀取。
func (s *Service) ListPaged(ctx context.Context, offset, limit int, search string) ([]EntryStats, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}

	total, err := s.store.Count(ctx, search)
	if err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	page, err := s.store.ListPaged(ctx, offset, limit, search)
	if err != nil {
		return nil, 0, fmt.Errorf("list paged: %w", err)
	}

	out := make([]EntryStats, 0, len(page))
	for _, e := range page {
		enriched, err := s.enrich(ctx, e)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *enriched)
	}
	return out, total, nil
}

// ListRecent 返回最近創建的 count 筆記錄（含聚合統計）
func (s *Service) ListRecent(ctx context.Context, count int) ([]EntryStats, error) {
	stats, _, err := s.ListPaged(ctx, 0, count, "")
	return stats, err
}

// lookup 驗證短碼格式並查詢
func (s *Service) lookup(ctx context.Context, code string) (*Entry, error) {
	if !validCode(code) {
		return nil, fmt.Errorf("%w: short code must be 1-%d alphanumeric characters",
			ErrInvalidInput, MaxCodeLength)
	}
	entry, err := s.store.Get(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load: %w", err)
	}
	return entry, nil
}

// enrich 為單筆記錄計算聚合點擊數
//
// 注意：與兄弟短碼上的併發 increment 不保證交易一致，
// 是最佳努力讀取而非線性一致快照。
func (s *Service) enrich(ctx context.Context, e Entry) (*EntryStats, error) {
	siblings, err := s.store.ListByLongURL(ctx, e.LongURL)
	if err != nil {
		return nil, fmt.Errorf("aggregate clicks: %w", err)
	}
	var total int64
	for _, sib := range siblings {
		total += sib.Clicks
	}
	return &EntryStats{Entry: e, TotalClicks: total}, nil
}

// publish 發送事件（fire-and-forget；events 為 nil 時靜默跳過）
func (s *Service) publish(e Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}
