package internal

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何在一條持久的全雙工連線上承載大廳協議？
//
// 核心挑戰：
//   1. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   2. 慢消費者：一個卡住的客戶端不能拖累整個房間的廣播
//   3. 寫入競爭：廣播與心跳來自不同 goroutine
//
// 設計方案：
//   ✅ Ping/Pong 心跳（54s/60s）- 避開常見代理的 60 秒閾值
//   ✅ 緩衝 Send channel - 寫入序列化到單一 writePump
//   ✅ 非阻塞投遞 - 緩衝滿直接丟棄，交由斷線檢測清理死連接

const (
	// writeWait 寫入期限
	writeWait = 10 * time.Second
	// pongWait 未收到任何訊息（含 Pong）即視為死連接
	pongWait = 60 * time.Second
	// pingPeriod Ping 間隔，留 6 秒餘量給網絡傳輸
	pingPeriod = 54 * time.Second
	// maxMessageSize 入站訊息上限
	maxMessageSize = 64 * 1024
	// sendBufferSize 出站緩衝訊息數
	sendBufferSize = 256
)

// Gateway WebSocket 接入層
//
// 升級 HTTP 連線、為每條連線建立傳輸握把並交給協調器，
// 之後只負責搬運位元組：入站訊息丟給協調器路由，出站訊息
// 從 Send channel 寫回網絡。
type Gateway struct {
	coordinator *Coordinator
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewGateway 建立接入層
func NewGateway(coordinator *Coordinator, logger *slog.Logger) *Gateway {
	return &Gateway{
		coordinator: coordinator,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeWS 處理 WebSocket 連線
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: g.logger,
	}

	socketID := g.coordinator.HandleConnect(client)

	go client.writePump()
	go client.readPump(g.coordinator, socketID)
}

// wsClient 一條 WebSocket 連線的傳輸握把
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once // 確保 done 只關閉一次
	logger *slog.Logger
}

// Send 非阻塞的盡力而為投遞
//
// 連線已關閉或緩衝滿時回傳 false，訊息丟棄。呼叫端（扇出）
// 不會因此移除連線——清理只經由斷線處理。
func (c *wsClient) Send(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close 關閉連線
func (c *wsClient) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

// readPump 讀取客戶端訊息
//
// 收到 Pong 重置讀取期限（60 秒），配合 writePump 的 54 秒 Ping。
// 讀取結束（斷線、錯誤、逾時）觸發協調器的冪等清理。
func (c *wsClient) readPump(coordinator *Coordinator, socketID string) {
	defer func() {
		coordinator.HandleDisconnect(socketID)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket 讀取錯誤", "socket_id", socketID, "error", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			coordinator.HandleMessage(socketID, message)
		}
	}
}

// writePump 寫入訊息到客戶端
//
// 唯一寫入 conn 的 goroutine。定時 Ping 之外，批量清空 Send
// 緩衝以減少系統呼叫。
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(time.Second)
			if err := c.conn.SetWriteDeadline(deadline); err == nil {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return

		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
