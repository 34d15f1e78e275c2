package shortener

import (
	"context"
)

// Store 定義存儲層接口
//
// 併發契約：
//   - 所有操作對無上限的併發調用者安全
//   - Insert / Delete / IncrementClicks 對同一短碼序列化，
//     競賽中恰好一個寫者獲勝（insert-vs-insert、delete-vs-delete）
//   - 不同短碼之間的操作互不排序
//   - 列舉操作返回快照副本，迭代期間存儲可以繼續變動
//
// 大小寫：所有以短碼為參數的操作都是大小寫不敏感的。
//
// Go 慣用法：
//   - 接口定義在使用方（本包），實現在 internal/storage
//   - 方便單元測試（可以用內存實現，不需要 mock）
type Store interface {
	// Insert 原子地新增記錄；短碼（不分大小寫）已存在時返回 ErrCodeExists，
	// 且不得修改既有記錄。不允許先查再插的競態窗口。
	Insert(ctx context.Context, e *Entry) error

	// Get 查詢短碼；不存在時返回 ErrNotFound。
	Get(ctx context.Context, code string) (*Entry, error)

	// Delete 原子地刪除；不存在時返回 ErrNotFound。
	Delete(ctx context.Context, code string) error

	// Exists 檢查短碼是否存在。
	Exists(ctx context.Context, code string) (bool, error)

	// IncrementClicks 原子地將點擊數加一並返回新值。
	// 短碼不存在時返回 (0, nil)：這是與併發刪除之間的良性競賽，不是錯誤。
	IncrementClicks(ctx context.Context, code string) (int64, error)

	// ListAll 返回所有記錄的快照副本（順序不保證）。
	ListAll(ctx context.Context) ([]Entry, error)

	// ListByLongURL 返回長網址完全相等的所有記錄（用於聚合統計）。
	ListByLongURL(ctx context.Context, longURL string) ([]Entry, error)

	// Count 返回符合搜尋條件的記錄數。
	// search 非空時做長網址的大小寫不敏感子字串比對。
	Count(ctx context.Context, search string) (int, error)

	// ListPaged 返回過濾後按 CreatedAt 降冪排序的一頁記錄。
	ListPaged(ctx context.Context, offset, limit int, search string) ([]Entry, error)
}
