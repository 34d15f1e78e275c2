package shortener_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/shortlink/internal/shortener"
	"github.com/koopa0/shortlink/internal/storage"
)

// recorder 收集事件的測試用 Publisher
type recorder struct {
	mu     sync.Mutex
	events []shortener.Event
}

func (r *recorder) Publish(e shortener.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []shortener.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shortener.Event, len(r.events))
	copy(out, r.events)
	return out
}

// seqGen 依序返回固定短碼的生成函數（測試碰撞用）
func seqGen(codes ...string) shortener.CodeFunc {
	i := 0
	return func() (string, error) {
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}

func newTestService(t *testing.T, gen shortener.CodeFunc) (*shortener.Service, *storage.Memory, *recorder) {
	t.Helper()
	store := storage.NewMemory()
	rec := &recorder{}
	svc := shortener.New(store, gen, rec, nil)
	return svc, store, rec
}

// TestService_Create 測試創建短網址
func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("auto generated code", func(t *testing.T) {
		svc, _, rec := newTestService(t, nil)

		entry, err := svc.Create(ctx, "https://example.com/page", "")
		require.NoError(t, err)

		assert.Len(t, entry.ShortCode, shortener.CodeLength)
		assert.Equal(t, "https://example.com/page", entry.LongURL)
		assert.Equal(t, int64(0), entry.Clicks)
		assert.Equal(t, int64(0), entry.TotalClicks)
		assert.False(t, entry.CreatedAt.IsZero())

		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, shortener.EventCreated, events[0].Kind)
		assert.Equal(t, entry.ShortCode, events[0].Code)
		require.NotNil(t, events[0].Entry)
	})

	t.Run("custom code", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		entry, err := svc.Create(ctx, "https://example.com/page", "alpha01")
		require.NoError(t, err)
		assert.Equal(t, "alpha01", entry.ShortCode)
	})

	t.Run("long url is normalized", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		entry, err := svc.Create(ctx, "HTTPS://Example.COM:443/Path/", "alpha01")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/Path", entry.LongURL)
	})

	t.Run("custom code length bounds", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		// 5 字符是下限
		_, err := svc.Create(ctx, "https://example.com/a", "short")
		require.NoError(t, err)

		// 4 字符太短
		_, err = svc.Create(ctx, "https://example.com/a", "shor")
		assert.ErrorIs(t, err, shortener.ErrInvalidInput)

		// 21 字符太長
		_, err = svc.Create(ctx, "https://example.com/a", "abcdefghijklmnopqrstu")
		assert.ErrorIs(t, err, shortener.ErrInvalidInput)
	})

	t.Run("custom code must be alphanumeric", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		_, err := svc.Create(ctx, "https://example.com/a", "with-dash")
		assert.ErrorIs(t, err, shortener.ErrInvalidInput)
	})

	t.Run("invalid long url", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		_, err := svc.Create(ctx, "not-a-url", "")
		assert.ErrorIs(t, err, shortener.ErrInvalidInput)

		_, err = svc.Create(ctx, "ftp://x.com", "")
		assert.ErrorIs(t, err, shortener.ErrInvalidInput)
	})

	t.Run("duplicate custom code names the code", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		_, err := svc.Create(ctx, "https://example.com/a", "alpha01")
		require.NoError(t, err)

		_, err = svc.Create(ctx, "https://example.com/b", "alpha01")
		require.ErrorIs(t, err, shortener.ErrCodeExists)
		assert.Contains(t, err.Error(), "alpha01")
	})

	t.Run("duplicate custom code is case insensitive", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		_, err := svc.Create(ctx, "https://example.com/a", "AbCde")
		require.NoError(t, err)

		_, err = svc.Create(ctx, "https://example.com/b", "ABCDE")
		assert.ErrorIs(t, err, shortener.ErrCodeExists)
	})

	t.Run("generated collision retries", func(t *testing.T) {
		svc, store, _ := newTestService(t, seqGen("aaaaaaa", "bbbbbbb"))

		require.NoError(t, store.Insert(ctx, &shortener.Entry{
			ShortCode: "aaaaaaa",
			LongURL:   "https://example.com/old",
			CreatedAt: time.Now(),
		}))

		entry, err := svc.Create(ctx, "https://example.com/new", "")
		require.NoError(t, err)
		assert.Equal(t, "bbbbbbb", entry.ShortCode)
	})

	t.Run("exhausted retries fail with generic message", func(t *testing.T) {
		svc, store, rec := newTestService(t, seqGen("aaaaaaa"))

		require.NoError(t, store.Insert(ctx, &shortener.Entry{
			ShortCode: "aaaaaaa",
			LongURL:   "https://example.com/old",
			CreatedAt: time.Now(),
		}))

		_, err := svc.Create(ctx, "https://example.com/new", "")
		require.ErrorIs(t, err, shortener.ErrCodeExists)
		assert.Contains(t, err.Error(), "failed to generate unique code")
		// 通用訊息不指名任何具體短碼
		assert.NotContains(t, err.Error(), `"aaaaaaa"`)
		// 失敗不發事件
		assert.Empty(t, rec.all())
	})

	t.Run("created event carries existing aggregate", func(t *testing.T) {
		svc, _, rec := newTestService(t, nil)

		first, err := svc.Create(ctx, "https://example.com/x", "alpha01")
		require.NoError(t, err)

		// 先累積點擊，再為同一目的地建第二個短碼
		_, err = svc.Resolve(ctx, first.ShortCode)
		require.NoError(t, err)

		second, err := svc.Create(ctx, "https://example.com/x", "alpha02")
		require.NoError(t, err)
		assert.Equal(t, int64(1), second.TotalClicks)

		events := rec.all()
		last := events[len(events)-1]
		assert.Equal(t, shortener.EventCreated, last.Kind)
		require.NotNil(t, last.Entry)
		assert.Equal(t, int64(1), last.Entry.TotalClicks)
	})
}

// TestService_Resolve 測試解析與聚合統計
func TestService_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("increments and enriches", func(t *testing.T) {
		svc, _, rec := newTestService(t, nil)

		_, err := svc.Create(ctx, "https://example.com/page", "alpha01")
		require.NoError(t, err)

		entry, err := svc.Resolve(ctx, "alpha01")
		require.NoError(t, err)
		assert.Equal(t, int64(1), entry.Clicks)
		assert.Equal(t, int64(1), entry.TotalClicks)

		events := rec.all()
		last := events[len(events)-1]
		assert.Equal(t, shortener.EventClicked, last.Kind)
		assert.Equal(t, "alpha01", last.Code)
		assert.Equal(t, int64(1), last.Clicks)
		assert.Equal(t, int64(1), last.TotalClicks)
		assert.Equal(t, "https://example.com/page", last.LongURL)
	})

	t.Run("aggregate across sibling codes", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		// 兩個輸入正規化後指向同一目的地
		a, err := svc.Create(ctx, "https://EXAMPLE.com/x/", "alpha01")
		require.NoError(t, err)
		b, err := svc.Create(ctx, "https://example.com/x", "alpha02")
		require.NoError(t, err)
		assert.Equal(t, a.LongURL, b.LongURL)

		first, err := svc.Resolve(ctx, "alpha01")
		require.NoError(t, err)
		assert.Equal(t, int64(1), first.Clicks)
		assert.Equal(t, int64(1), first.TotalClicks)

		second, err := svc.Resolve(ctx, "alpha02")
		require.NoError(t, err)
		assert.Equal(t, int64(1), second.Clicks)
		assert.Equal(t, int64(2), second.TotalClicks)

		// 兩筆記錄的最終視圖聚合都是 2
		all, err := svc.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		for _, e := range all {
			assert.Equal(t, int64(1), e.Clicks)
			assert.Equal(t, int64(2), e.TotalClicks)
		}
	})

	t.Run("case insensitive lookup", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		_, err := svc.Create(ctx, "https://example.com/a", "AbCde")
		require.NoError(t, err)

		entry, err := svc.Resolve(ctx, "ABCDE")
		require.NoError(t, err)
		assert.Equal(t, int64(1), entry.Clicks)

		entry, err = svc.Resolve(ctx, "abcde")
		require.NoError(t, err)
		assert.Equal(t, int64(2), entry.Clicks)
	})

	t.Run("not found", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		_, err := svc.Resolve(ctx, "missing")
		assert.ErrorIs(t, err, shortener.ErrNotFound)
	})

	t.Run("invalid code format", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		_, err := svc.Resolve(ctx, "bad-code!")
		assert.ErrorIs(t, err, shortener.ErrInvalidInput)

		_, err = svc.Resolve(ctx, "")
		assert.ErrorIs(t, err, shortener.ErrInvalidInput)
	})
}

// TestService_ResolveForRedirect 只返回目的地，行為與 Resolve 相同
func TestService_ResolveForRedirect(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newTestService(t, nil)

	_, err := svc.Create(ctx, "https://example.com/page", "alpha01")
	require.NoError(t, err)

	longURL, err := svc.ResolveForRedirect(ctx, "alpha01")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", longURL)

	// 點擊已計入
	entry, err := svc.Stats(ctx, "alpha01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Clicks)

	events := rec.all()
	assert.Equal(t, shortener.EventClicked, events[len(events)-1].Kind)
}

// TestService_Stats 統計查詢不增加點擊數
func TestService_Stats(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)

	_, err := svc.Create(ctx, "https://example.com/page", "alpha01")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		entry, err := svc.Stats(ctx, "alpha01")
		require.NoError(t, err)
		assert.Equal(t, int64(0), entry.Clicks)
	}

	_, err = svc.Stats(ctx, "missing")
	assert.ErrorIs(t, err, shortener.ErrNotFound)
}

// TestService_Delete 測試刪除
func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("delete emits event", func(t *testing.T) {
		svc, _, rec := newTestService(t, nil)

		_, err := svc.Create(ctx, "https://example.com/page", "alpha01")
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, "alpha01"))

		events := rec.all()
		last := events[len(events)-1]
		assert.Equal(t, shortener.EventDeleted, last.Kind)
		assert.Equal(t, "alpha01", last.Code)

		// 刪除後查詢/再刪除都是 NotFound
		_, err = svc.Stats(ctx, "alpha01")
		assert.ErrorIs(t, err, shortener.ErrNotFound)
		assert.ErrorIs(t, svc.Delete(ctx, "alpha01"), shortener.ErrNotFound)
	})

	t.Run("delete never created code", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)
		assert.ErrorIs(t, svc.Delete(ctx, "missing"), shortener.ErrNotFound)
	})

	t.Run("invalid code", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)
		assert.ErrorIs(t, svc.Delete(ctx, "bad-code!"), shortener.ErrInvalidInput)
	})
}

// TestService_ListPaged 測試分頁與搜尋
func TestService_ListPaged(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, nil)

	// 直接注入存儲以控制創建時間（排序確定性）
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []shortener.Entry{
		{ShortCode: "code01", LongURL: "https://example.com/alpha", CreatedAt: base.Add(1 * time.Hour)},
		{ShortCode: "code02", LongURL: "https://example.com/beta", CreatedAt: base.Add(2 * time.Hour)},
		{ShortCode: "code03", LongURL: "https://other.net/alpha", CreatedAt: base.Add(3 * time.Hour)},
		{ShortCode: "code04", LongURL: "https://example.com/gamma", CreatedAt: base.Add(4 * time.Hour)},
	}
	for i := range seed {
		require.NoError(t, store.Insert(ctx, &seed[i]))
	}

	t.Run("newest first with total", func(t *testing.T) {
		page, total, err := svc.ListPaged(ctx, 0, 2, "")
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, page, 2)
		assert.Equal(t, "code04", page[0].ShortCode)
		assert.Equal(t, "code03", page[1].ShortCode)
	})

	t.Run("offset window", func(t *testing.T) {
		page, total, err := svc.ListPaged(ctx, 2, 2, "")
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, page, 2)
		assert.Equal(t, "code02", page[0].ShortCode)
		assert.Equal(t, "code01", page[1].ShortCode)
	})

	t.Run("offset beyond end", func(t *testing.T) {
		page, total, err := svc.ListPaged(ctx, 10, 2, "")
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Empty(t, page)
	})

	t.Run("search filters by substring", func(t *testing.T) {
		page, total, err := svc.ListPaged(ctx, 0, 10, "ALPHA")
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 2)
		assert.Equal(t, "code03", page[0].ShortCode)
		assert.Equal(t, "code01", page[1].ShortCode)
	})

	t.Run("search without match", func(t *testing.T) {
		page, total, err := svc.ListPaged(ctx, 0, 10, "nothing-here")
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, page)
	})
}

// TestService_ListRecent 最近創建優先
func TestService_ListRecent(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, code := range []string{"code01", "code02", "code03"} {
		require.NoError(t, store.Insert(ctx, &shortener.Entry{
			ShortCode: code,
			LongURL:   "https://example.com/page",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	recent, err := svc.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "code03", recent[0].ShortCode)
	assert.Equal(t, "code02", recent[1].ShortCode)
}

// TestService_ConcurrentCreates 併發創建同一自定義短碼，恰好一個成功
func TestService_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, "https://example.com/race", "race01")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, collided := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			require.ErrorIs(t, err, shortener.ErrCodeExists)
			collided++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, collided)
}
