// Package storage 實現短網址的存儲後端
//
// 存儲架構演進：
//
//	V1：Memory（單機、開發測試、本規模的預設選擇）
//	V2：PostgreSQL（持久化；重啟不丟數據）
//
// 兩個實現滿足相同的 shortener.Store 併發契約，
// 由組合根（cmd/server）依配置選擇。
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/koopa0/shortlink/internal/shortener"
)

// Memory 內存存儲實現
//
// 系統設計權衡：
//
//	✅ 零延遲、零依賴、原子操作只需一把鎖
//	❌ 不持久化（重啟丟失）、單機限制
//
// 併發設計：
//   - sync.RWMutex：讀多寫少（列舉、查詢用讀鎖；insert/delete/increment 用寫鎖）
//   - 身份鍵 = 小寫短碼（大小寫不敏感的唯一性在 map key 層面保證）
//   - Insert 的 test-and-set 在同一次持鎖內完成，沒有先查再插的競態窗口
//   - 所有讀取返回副本：調用者永遠拿不到內部 *Entry，
//     點擊數只能經由 IncrementClicks 修改
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*shortener.Entry // key: 小寫短碼
}

// NewMemory 創建內存存儲實例
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*shortener.Entry),
	}
}

// Insert 原子地新增記錄
func (m *Memory) Insert(ctx context.Context, e *shortener.Entry) error {
	key := e.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; exists {
		return shortener.ErrCodeExists
	}

	// 存副本，切斷與調用者的共享
	entry := *e
	m.entries[key] = &entry
	return nil
}

// Get 大小寫不敏感查詢
func (m *Memory) Get(ctx context.Context, code string) (*shortener.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[strings.ToLower(code)]
	if !exists {
		return nil, shortener.ErrNotFound
	}

	cp := *entry
	return &cp, nil
}

// Delete 原子地刪除
func (m *Memory) Delete(ctx context.Context, code string) error {
	key := strings.ToLower(code)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists {
		return shortener.ErrNotFound
	}
	delete(m.entries, key)
	return nil
}

// Exists 檢查短碼是否存在
func (m *Memory) Exists(ctx context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.entries[strings.ToLower(code)]
	return exists, nil
}

// IncrementClicks 原子地加一並返回新值
//
// 短碼不存在時返回 (0, nil)：
// 與併發刪除之間的良性競賽，按契約不視為錯誤。
func (m *Memory) IncrementClicks(ctx context.Context, code string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[strings.ToLower(code)]
	if !exists {
		return 0, nil
	}
	entry.Clicks++
	return entry.Clicks, nil
}

// ListAll 返回所有記錄的快照副本
//
// 快照語義：返回後存儲可以繼續變動，迭代者不受影響。
func (m *Memory) ListAll(ctx context.Context) ([]shortener.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]shortener.Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, *entry)
	}
	return out, nil
}

// ListByLongURL 返回長網址完全相等的記錄
func (m *Memory) ListByLongURL(ctx context.Context, longURL string) ([]shortener.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []shortener.Entry
	for _, entry := range m.entries {
		if entry.LongURL == longURL {
			out = append(out, *entry)
		}
	}
	return out, nil
}

// Count 返回符合搜尋條件的記錄數
func (m *Memory) Count(ctx context.Context, search string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if search == "" {
		return len(m.entries), nil
	}

	needle := strings.ToLower(search)
	count := 0
	for _, entry := range m.entries {
		if strings.Contains(strings.ToLower(entry.LongURL), needle) {
			count++
		}
	}
	return count, nil
}

// ListPaged 返回過濾後按 CreatedAt 降冪的一頁記錄
//
// 實現說明：
//   - 先在持讀鎖期間收集匹配的副本，排序與切片在鎖外進行
//   - 排序以短碼作第二鍵，讓同一時刻創建的記錄有穩定順序
func (m *Memory) ListPaged(ctx context.Context, offset, limit int, search string) ([]shortener.Entry, error) {
	needle := strings.ToLower(search)

	m.mu.RLock()
	matched := make([]shortener.Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if needle == "" || strings.Contains(strings.ToLower(entry.LongURL), needle) {
			matched = append(matched, *entry)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ShortCode < matched[j].ShortCode
	})

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}
