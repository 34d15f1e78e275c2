package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/shortlink/internal/shortener"
)

// NATSBridge 把事件鏡像發布到 NATS
//
// 用途：跨實例扇出。單一 Hub 只能推給連到本實例的監聽者，
// 多實例部署時由 NATS 把事件帶給其他實例（或其他消費者）。
//
// Subject 路由：<prefix>.<kind>，例如 shortlink.events.clicked，
// 消費者可以按事件類型訂閱。
//
// 投遞語義與 Hub 相同：fire-and-forget，
// 發布失敗記錄日誌後吞掉，永不回傳給服務層。
type NATSBridge struct {
	nc            *nats.Conn
	logger        *slog.Logger
	subjectPrefix string
}

// NewNATSBridge 連接 NATS 並建立橋接器
func NewNATSBridge(url, subjectPrefix string, logger *slog.Logger) (*NATSBridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("shortlink"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info("connected to nats", "url", url, "subject_prefix", subjectPrefix)

	return &NATSBridge{
		nc:            nc,
		logger:        logger,
		subjectPrefix: subjectPrefix,
	}, nil
}

// Publish 發布事件到 NATS（fire-and-forget）
func (b *NATSBridge) Publish(e shortener.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("marshal event failed", "error", err)
		return
	}

	subject := b.subjectPrefix + "." + string(e.Kind)
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Warn("nats publish failed", "subject", subject, "error", err)
	}
}

// Close 排空發送隊列並關閉連接
func (b *NATSBridge) Close() {
	if err := b.nc.Drain(); err != nil {
		b.logger.Warn("nats drain failed", "error", err)
	}
}

// Fanout 把同一事件發給多個 Publisher
//
// 組合根用它把 Hub 與 NATSBridge 接在服務層的單一 Publisher 依賴上。
type Fanout []shortener.Publisher

// Publish 依序轉發（每個成員自己保證不阻塞）
func (f Fanout) Publish(e shortener.Event) {
	for _, p := range f {
		p.Publish(e)
	}
}
