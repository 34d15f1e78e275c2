package shortener

import "time"

// EventKind 事件類型
type EventKind string

const (
	// EventCreated 短網址建立成功
	EventCreated EventKind = "created"

	// EventClicked 短網址被解析（點擊數已更新）
	EventClicked EventKind = "clicked"

	// EventDeleted 短網址被刪除
	EventDeleted EventKind = "deleted"
)

// Event 服務層發出的推送事件
//
// 欄位按事件類型填充：
//   - created：Entry（含聚合統計）
//   - clicked：Code、LongURL、Clicks（單碼新值）、TotalClicks（聚合新值）
//   - deleted：Code
type Event struct {
	Kind        EventKind   `json:"kind"`
	Code        string      `json:"code"`
	LongURL     string      `json:"long_url,omitempty"`
	Clicks      int64       `json:"clicks,omitempty"`
	TotalClicks int64       `json:"total_clicks,omitempty"`
	Entry       *EntryStats `json:"entry,omitempty"`
	At          time.Time   `json:"at"`
}

// Publisher 推送通道的抽象
//
// 契約：Publish 絕不阻塞、絕不失敗回傳。投遞是 fire-and-forget，
// 失敗由實現方記錄日誌並吞掉，永不影響發起事件的服務呼叫。
type Publisher interface {
	Publish(e Event)
}
