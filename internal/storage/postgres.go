package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/shortlink/internal/shortener"
)

// Postgres PostgreSQL 存儲實現
//
// 表結構設計（migrations/migrations/000001_create_links.up.sql）：
//   - code_key：小寫短碼，主鍵
//     → 大小寫不敏感的唯一性由主鍵約束在資料庫層面保證
//   - short_code：使用者輸入的原始大小寫（展示用）
//   - long_url / clicks / created_at
//
// 併發控制：
//   - Insert：INSERT ... ON CONFLICT DO NOTHING（原子 test-and-set，
//     受影響列數為 0 即碰撞，既有記錄不被修改）
//   - IncrementClicks：UPDATE ... SET clicks = clicks + 1 RETURNING
//     （資料庫層原子操作，無丟失更新）
//
// 索引策略：
//   - PRIMARY KEY (code_key)
//   - INDEX (long_url)：聚合統計查詢
//   - INDEX (created_at DESC)：分頁排序
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres 創建 PostgreSQL 存儲實例
//
// 連接池由調用方管理生命週期（組合根負責建立與關閉）。
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Insert 原子地新增記錄
func (p *Postgres) Insert(ctx context.Context, e *shortener.Entry) error {
	const query = `
		INSERT INTO links (code_key, short_code, long_url, clicks, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code_key) DO NOTHING
	`

	tag, err := p.pool.Exec(ctx, query, e.Key(), e.ShortCode, e.LongURL, e.Clicks, e.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shortener.ErrCodeExists
	}
	return nil
}

// Get 大小寫不敏感查詢
func (p *Postgres) Get(ctx context.Context, code string) (*shortener.Entry, error) {
	const query = `
		SELECT short_code, long_url, clicks, created_at
		FROM links
		WHERE code_key = $1
	`

	var e shortener.Entry
	err := p.pool.QueryRow(ctx, query, strings.ToLower(code)).
		Scan(&e.ShortCode, &e.LongURL, &e.Clicks, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shortener.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Delete 原子地刪除
func (p *Postgres) Delete(ctx context.Context, code string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM links WHERE code_key = $1`, strings.ToLower(code))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shortener.ErrNotFound
	}
	return nil
}

// Exists 檢查短碼是否存在
func (p *Postgres) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM links WHERE code_key = $1)`,
		strings.ToLower(code)).Scan(&exists)
	return exists, err
}

// IncrementClicks 原子地加一並返回新值
//
// 短碼不存在（例如被併發刪除）時返回 (0, nil)。
func (p *Postgres) IncrementClicks(ctx context.Context, code string) (int64, error) {
	const query = `
		UPDATE links SET clicks = clicks + 1
		WHERE code_key = $1
		RETURNING clicks
	`

	var clicks int64
	err := p.pool.QueryRow(ctx, query, strings.ToLower(code)).Scan(&clicks)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return clicks, nil
}

// ListAll 返回所有記錄
func (p *Postgres) ListAll(ctx context.Context) ([]shortener.Entry, error) {
	const query = `SELECT short_code, long_url, clicks, created_at FROM links`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListByLongURL 返回長網址完全相等的記錄
func (p *Postgres) ListByLongURL(ctx context.Context, longURL string) ([]shortener.Entry, error) {
	const query = `
		SELECT short_code, long_url, clicks, created_at
		FROM links
		WHERE long_url = $1
	`

	rows, err := p.pool.Query(ctx, query, longURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Count 返回符合搜尋條件的記錄數
func (p *Postgres) Count(ctx context.Context, search string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM links
		WHERE $1 = '' OR long_url ILIKE $2 ESCAPE '\'
	`

	var count int
	err := p.pool.QueryRow(ctx, query, search, likePattern(search)).Scan(&count)
	return count, err
}

// ListPaged 返回過濾後按 created_at 降冪的一頁記錄
func (p *Postgres) ListPaged(ctx context.Context, offset, limit int, search string) ([]shortener.Entry, error) {
	const query = `
		SELECT short_code, long_url, clicks, created_at
		FROM links
		WHERE $1 = '' OR long_url ILIKE $2 ESCAPE '\'
		ORDER BY created_at DESC, code_key ASC
		OFFSET $3 LIMIT $4
	`

	rows, err := p.pool.Query(ctx, query, search, likePattern(search), offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]shortener.Entry, error) {
	var out []shortener.Entry
	for rows.Next() {
		var e shortener.Entry
		if err := rows.Scan(&e.ShortCode, &e.LongURL, &e.Clicks, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// likePattern 構建子字串比對的 ILIKE pattern
//
// % 與 _ 是 LIKE 的萬用字元，出現在搜尋字串中必須跳脫，
// 否則使用者輸入 "%" 會匹配所有記錄。
func likePattern(search string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search)
	return "%" + escaped + "%"
}
