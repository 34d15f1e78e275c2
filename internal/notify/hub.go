// Package notify 實現事件推送通道
//
// 系統設計問題：
//
//	如何把 create / click / delete 事件實時推送給所有監聽者，
//	又不讓推送的任何失敗拖累發起事件的請求？
//
// 設計方案：
//
//	✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//	✅ Hub 模式 - 集中管理所有連接
//	✅ 緩衝事件 channel - Publish 永不阻塞（滿了就丟、記日誌）
//	✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//	✅ 可選 NATS 鏡像 - 跨實例扇出
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/shortlink/internal/shortener"
)

const (
	// eventBufferSize Publish 與廣播循環之間的緩衝
	eventBufferSize = 256

	// sendBufferSize 每個連接的發送緩衝
	sendBufferSize = 64

	// 心跳配置：54 秒 Ping、60 秒讀取超時
	//
	// 為什麼 54 秒？很多代理服務器默認 60 秒空閒超時，
	// 在超時前發送 Ping 並留 6 秒余量（網絡延遲 + 處理時間）。
	pingInterval = 54 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Hub WebSocket 連接中心
//
// 併發設計：
//   - connections map 由 RWMutex 保護：廣播頻繁（讀鎖），註冊/註銷少（寫鎖）
//   - 事件從緩衝 channel 進入單一廣播 goroutine，
//     發布者（服務層請求 goroutine）永不接觸連接
//   - 慢客戶端的 Send 緩衝滿了直接丟該客戶端的這則消息，
//     不阻塞對其他客戶端的投遞
type Hub struct {
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[string]*Connection // 連接 ID -> Connection
	mu          sync.RWMutex
	events      chan shortener.Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// Connection 單一監聽者的 WebSocket 連接
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub
	closeOnce sync.Once // 確保 Send channel 只關閉一次
}

// NewHub 創建 Hub 並啟動廣播循環
func NewHub(logger *slog.Logger) *Hub {
	hub := &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
		events:      make(chan shortener.Event, eventBufferSize),
		stopCh:      make(chan struct{}),
	}

	hub.wg.Add(1)
	go hub.broadcastLoop()

	return hub
}

// Publish 發送事件給所有監聽者
//
// 契約：永不阻塞、永不失敗回傳。
// 緩衝滿時事件被丟棄並記錄，投遞是 fire-and-forget 的最佳努力。
func (hub *Hub) Publish(e shortener.Event) {
	select {
	case hub.events <- e:
	case <-hub.stopCh:
	default:
		hub.logger.Warn("event buffer full, dropping event",
			"kind", string(e.Kind),
			"code", e.Code)
	}
}

// ServeWS 處理 WebSocket 連接升級
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	connection := &Connection{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBufferSize),
		hub:  hub,
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("websocket listener connected",
		"conn_id", connection.ID,
		"remote", r.RemoteAddr)
}

// ListenerCount 返回當前連接數（監控用）
func (hub *Hub) ListenerCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 停止 Hub 並關閉所有連接
func (hub *Hub) Stop() {
	hub.stopOnce.Do(func() {
		close(hub.stopCh)
	})
	hub.wg.Wait()

	hub.mu.Lock()
	for _, conn := range hub.connections {
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("notify hub stopped")
}

func (hub *Hub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.connections[conn.ID] = conn
}

func (hub *Hub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[conn.ID]; exists && actual == conn {
		delete(hub.connections, conn.ID)
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
	}
}

// broadcastLoop 消費事件並廣播
func (hub *Hub) broadcastLoop() {
	defer hub.wg.Done()

	for {
		select {
		case e := <-hub.events:
			message, err := json.Marshal(e)
			if err != nil {
				hub.logger.Error("marshal event failed", "error", err)
				continue
			}
			hub.broadcast(message)
		case <-hub.stopCh:
			return
		}
	}
}

func (hub *Hub) broadcast(message []byte) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.connections {
		select {
		case conn.Send <- message:
		default:
			// 慢客戶端：這則消息丟給它，不拖累其他監聽者
			hub.logger.Warn("listener send buffer full", "conn_id", conn.ID)
		}
	}
}

// readPump 讀取端：維持心跳超時，丟棄客戶端消息
//
// 監聽者是純訂閱方，收到的任何文本消息都被忽略；
// 讀循環存在只為了偵測關閉與處理 Pong。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("set read deadline failed", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error", "error", err, "conn_id", c.ID)
			}
			return
		}
	}
}

// writePump 寫入端：送出事件與定期 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("set write deadline failed", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量送出隊列中的剩餘消息；
			// 通道可能在中途被 Hub 關閉，收到關閉信號就走關閉流程，
			// 不把零值當消息寫出去
			n := len(c.Send)
			for i := 0; i < n; i++ {
				message, ok := <-c.Send
				if !ok {
					_ = c.Conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("set write deadline failed", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
