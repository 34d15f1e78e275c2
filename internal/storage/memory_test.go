package storage_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/shortlink/internal/shortener"
	"github.com/koopa0/shortlink/internal/storage"
)

func entry(code, longURL string, at time.Time) *shortener.Entry {
	return &shortener.Entry{ShortCode: code, LongURL: longURL, CreatedAt: at}
}

// TestMemory_InsertGet 基本讀寫
func TestMemory_InsertGet(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	require.NoError(t, store.Insert(ctx, entry("abc123x", "https://example.com/a", time.Now())))

	got, err := store.Get(ctx, "abc123x")
	require.NoError(t, err)
	assert.Equal(t, "abc123x", got.ShortCode)
	assert.Equal(t, "https://example.com/a", got.LongURL)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, shortener.ErrNotFound)
}

// TestMemory_CaseInsensitive 大小寫不敏感的身份貫穿所有操作
func TestMemory_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	require.NoError(t, store.Insert(ctx, entry("AbCdE", "https://example.com/a", time.Now())))

	// insert 視為重複
	err := store.Insert(ctx, entry("ABCDE", "https://example.com/b", time.Now()))
	assert.ErrorIs(t, err, shortener.ErrCodeExists)

	// get 保留原始大小寫
	got, err := store.Get(ctx, "abcde")
	require.NoError(t, err)
	assert.Equal(t, "AbCdE", got.ShortCode)

	ok, err := store.Exists(ctx, "aBcDe")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := store.IncrementClicks(ctx, "ABCDE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.Delete(ctx, "abcdE"))
	ok, err = store.Exists(ctx, "AbCdE")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMemory_CopySemantics 讀取返回副本，調用者改不動內部狀態
func TestMemory_CopySemantics(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	src := entry("abc123x", "https://example.com/a", time.Now())
	require.NoError(t, store.Insert(ctx, src))

	// 插入後改調用者持有的實例
	src.Clicks = 999

	got, err := store.Get(ctx, "abc123x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Clicks)

	// 改讀出的副本
	got.Clicks = 500
	again, err := store.Get(ctx, "abc123x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Clicks)
}

// TestMemory_IncrementClicks 計數語義
func TestMemory_IncrementClicks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	require.NoError(t, store.Insert(ctx, entry("abc123x", "https://example.com/a", time.Now())))

	for want := int64(1); want <= 3; want++ {
		n, err := store.IncrementClicks(ctx, "abc123x")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// 不存在的短碼返回 (0, nil)
	n, err := store.IncrementClicks(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestMemory_ConcurrentInsertSameCode 併發插入同一短碼，恰好一個成功
func TestMemory_ConcurrentInsertSameCode(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	const workers = 50
	results := make(chan error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Insert(ctx, entry("race01x",
				fmt.Sprintf("https://example.com/%d", i), time.Now()))
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, shortener.ErrCodeExists)
		}
	}
	assert.Equal(t, 1, succeeded)
}

// TestMemory_ConcurrentInsertDistinct 併發插入不同短碼全部成功
func TestMemory_ConcurrentInsertDistinct(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Insert(ctx, entry(fmt.Sprintf("code%02dx", i),
				"https://example.com/a", time.Now()))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, workers)
}

// TestMemory_ConcurrentDelete 併發刪除同一短碼，恰好一個成功
func TestMemory_ConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	require.NoError(t, store.Insert(ctx, entry("abc123x", "https://example.com/a", time.Now())))

	const workers = 20
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Delete(ctx, "abc123x")
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, shortener.ErrNotFound)
		}
	}
	assert.Equal(t, 1, succeeded)
}

// TestMemory_ConcurrentIncrement N 次併發 increment 不丟更新
func TestMemory_ConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	require.NoError(t, store.Insert(ctx, entry("abc123x", "https://example.com/a", time.Now())))

	const workers = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementClicks(ctx, "abc123x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "abc123x")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.Clicks)
}

// TestMemory_SnapshotIsolation 快照不受後續寫入影響
func TestMemory_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	require.NoError(t, store.Insert(ctx, entry("code01x", "https://example.com/a", time.Now())))
	require.NoError(t, store.Insert(ctx, entry("code02x", "https://example.com/b", time.Now())))

	snapshot, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	require.NoError(t, store.Delete(ctx, "code01x"))
	_, err = store.IncrementClicks(ctx, "code02x")
	require.NoError(t, err)

	// 快照保持拍攝時的樣貌
	assert.Len(t, snapshot, 2)
	for _, e := range snapshot {
		assert.Zero(t, e.Clicks)
	}
}

// TestMemory_ListByLongURL 完全相等匹配
func TestMemory_ListByLongURL(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	require.NoError(t, store.Insert(ctx, entry("code01x", "https://example.com/a", time.Now())))
	require.NoError(t, store.Insert(ctx, entry("code02x", "https://example.com/a", time.Now())))
	require.NoError(t, store.Insert(ctx, entry("code03x", "https://example.com/A", time.Now())))

	siblings, err := store.ListByLongURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Len(t, siblings, 2)

	none, err := store.ListByLongURL(ctx, "https://example.com/z")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestMemory_CountAndListPaged 過濾、排序、分頁
func TestMemory_CountAndListPaged(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []*shortener.Entry{
		entry("code01x", "https://example.com/alpha", base.Add(1*time.Hour)),
		entry("code02x", "https://example.com/beta", base.Add(2*time.Hour)),
		entry("code03x", "https://other.net/ALPHA", base.Add(3*time.Hour)),
		entry("code04x", "https://example.com/gamma", base.Add(4*time.Hour)),
	}
	for _, e := range seed {
		require.NoError(t, store.Insert(ctx, e))
	}

	t.Run("count without search", func(t *testing.T) {
		n, err := store.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("count with case insensitive search", func(t *testing.T) {
		n, err := store.Count(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("newest first", func(t *testing.T) {
		page, err := store.ListPaged(ctx, 0, 10, "")
		require.NoError(t, err)
		require.Len(t, page, 4)
		assert.Equal(t, "code04x", page[0].ShortCode)
		assert.Equal(t, "code03x", page[1].ShortCode)
		assert.Equal(t, "code02x", page[2].ShortCode)
		assert.Equal(t, "code01x", page[3].ShortCode)
	})

	t.Run("offset and limit window", func(t *testing.T) {
		page, err := store.ListPaged(ctx, 1, 2, "")
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "code03x", page[0].ShortCode)
		assert.Equal(t, "code02x", page[1].ShortCode)
	})

	t.Run("offset beyond end", func(t *testing.T) {
		page, err := store.ListPaged(ctx, 100, 10, "")
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("search filter", func(t *testing.T) {
		page, err := store.ListPaged(ctx, 0, 10, "ALPHA")
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "code03x", page[0].ShortCode)
		assert.Equal(t, "code01x", page[1].ShortCode)
	})

	t.Run("stable order for equal timestamps", func(t *testing.T) {
		same := storage.NewMemory()
		at := base
		require.NoError(t, same.Insert(ctx, entry("zzzzzzz", "https://example.com/a", at)))
		require.NoError(t, same.Insert(ctx, entry("aaaaaaa", "https://example.com/b", at)))

		page, err := same.ListPaged(ctx, 0, 10, "")
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "aaaaaaa", page[0].ShortCode)
		assert.Equal(t, "zzzzzzz", page[1].ShortCode)
	})
}
