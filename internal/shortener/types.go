// Package shortener 實現短網址服務的核心業務邏輯
//
// 系統設計問題：
//
//	如何在無限併發的請求下，保證短碼唯一性與點擊計數不丟失？
//
// 核心挑戰：
//  1. 短碼唯一性：大小寫不敏感，insert 必須是原子的 test-and-set
//  2. 點擊統計：併發 increment 不能丟失更新
//  3. 跨短碼聚合：同一個正規化後的長網址可能有多個短碼，
//     統計時需要加總所有兄弟短碼的點擊數
//
// 設計方案：
//
//	✅ Store 接口 + 原子操作（唯一性由存儲層的 insert-if-absent 保證）
//	✅ 正規化（Normalize）讓相同目的地的 URL 歸一，聚合統計才有意義
//	✅ 服務層無狀態（每次呼叫都是對 Store 的單發交易）
//	✅ 事件推送 fire-and-forget（通知失敗永不影響主流程）
package shortener

import (
	"errors"
	"strings"
	"time"
)

// 策略常數
//
// 這些數字是政策選擇而非推導結果（碰撞機率約 1/62^7 per attempt），
// 集中定義避免魔術數字散落各處。
const (
	// CodeLength 自動生成短碼的固定長度
	CodeLength = 7

	// MaxGenerateAttempts 生成短碼碰撞時的重試上限
	MaxGenerateAttempts = 5

	// MinCustomCodeLength / MaxCustomCodeLength 自定義短碼的長度範圍
	MinCustomCodeLength = 5
	MaxCustomCodeLength = 20

	// MaxCodeLength 查詢時允許的短碼最大長度
	MaxCodeLength = 20

	// MaxURLLength 長網址的最大長度
	MaxURLLength = 2048
)

// 錯誤定義
//
// HTTP 狀態碼映射：
//   - ErrInvalidInput → 400 Bad Request
//   - ErrCodeExists   → 409 Conflict
//   - ErrNotFound     → 404 Not Found
//   - 其他            → 500 Internal Server Error
//
// Go 慣用法：
//   - sentinel error + fmt.Errorf("%w: ...") 附加細節
//   - 邊界層用 errors.Is 判斷類別
var (
	// ErrInvalidInput 當輸入格式無效時返回（URL、短碼、scheme）
	ErrInvalidInput = errors.New("invalid input")

	// ErrCodeExists 當短碼已存在（或重試耗盡）時返回
	ErrCodeExists = errors.New("short code already exists")

	// ErrNotFound 當短碼不存在時返回
	ErrNotFound = errors.New("short code not found")
)

// Entry 表示一個短網址記錄
//
// 不變量：
//   - 身份鍵 = 小寫短碼（大小寫不敏感的唯一性）
//   - CreatedAt、LongURL 建立後不可變
//   - Clicks 只會增加，且只能透過 Store.IncrementClicks 修改
//
// 所有權：Store 獨占所有 Entry 實例，調用者拿到的永遠是副本。
type Entry struct {
	ShortCode string    `json:"short_code"`
	LongURL   string    `json:"long_url"`
	CreatedAt time.Time `json:"created_at"`
	Clicks    int64     `json:"clicks"`
}

// Key 返回身份鍵（小寫短碼）
func (e *Entry) Key() string {
	return strings.ToLower(e.ShortCode)
}

// EntryStats 帶聚合統計的視圖（衍生數據，不存儲）
//
// TotalClicks = 所有指向相同正規化長網址的短碼的點擊數總和。
// 每次請求即時計算（O(n) 掃描），因為 n 小且全在內存，可接受。
type EntryStats struct {
	Entry
	TotalClicks int64 `json:"total_clicks"`
}
