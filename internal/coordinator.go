package internal

import (
	"context"
	"log/slog"
	"sync"
)

// 系統設計問題：
//   如何讓「誰在線、在哪個房間、扮演什麼角色」在非同步、亂序、
//   可能交錯的客戶端訊息與斷線之間保持一致，而且不依賴外部
//   協調服務？
//
// 核心挑戰：
//   1. 訊息亂序：操作訊息與斷線處理可能以任意順序交錯
//   2. 宿主遷移：本系統的策略是「房主離開即解散」而非移交
//   3. 記憶體 vs 持久層：即時對局不能等資料庫
//
// 設計方案：
//   ✅ 單一協調器鎖 - 整個目錄由一把鎖持有，等同 actor/mailbox，
//      保留「先改記憶體、再等持久化」的順序
//   ✅ 射後不理持久化 - 失敗記日誌、不重試、不回滾（開賽除外）
//   ✅ 冪等清理 - 已清理過的連線再收到斷線訊號是無害的 no-op

// envProduction 生產環境識別值，錯誤回覆在此環境下不帶 details
const envProduction = "production"

// defaultMaxPlayers 單房間玩家上限
const defaultMaxPlayers = 8

// Coordinator 即時會話協調器
//
// 行程級可變狀態（房間目錄、連線註冊表）的唯一擁有者。
// 在伺服器啟動時建立、關閉時銷毀，顯式傳入每個處理器，
// 不作為環境單例存在。
type Coordinator struct {
	// mu 保護 registry 與 directory。
	// 處理器在鎖內完成記憶體變更，之後才發出持久化呼叫，
	// 後續事件因此總是觀察到已變更的記憶體狀態。
	mu sync.RWMutex

	registry  *Registry
	directory *Directory
	router    *Router

	store  Store
	events *Publisher
	logger *slog.Logger

	env        string
	maxPlayers int

	bg sync.WaitGroup // 追蹤在途的射後不理持久化呼叫
}

// Option 協調器選項
type Option func(*Coordinator)

// WithEnv 設定執行環境（"production" 會省略錯誤 details）
func WithEnv(env string) Option {
	return func(c *Coordinator) {
		c.env = env
	}
}

// WithMaxPlayers 設定單房間玩家上限
func WithMaxPlayers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxPlayers = n
		}
	}
}

// NewCoordinator 建立會話協調器
//
// events 可為 nil（未配置 NATS 時事件發布靜默略過）。
func NewCoordinator(store Store, events *Publisher, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:   NewRegistry(),
		directory:  NewDirectory(),
		router:     NewRouter(),
		store:      store,
		events:     events,
		logger:     logger,
		maxPlayers: defaultMaxPlayers,
	}

	for _, opt := range opts {
		opt(c)
	}

	// 封閉的事件集合：沒有列在這裡的標籤一律回 Unknown event
	c.router.Handle(EventCreateRoom, c.handleCreateRoom)
	c.router.Handle(EventJoinRoom, c.handleJoinRoom)
	c.router.Handle(EventLeaveRoom, c.handleLeaveRoom)
	c.router.Handle(EventKickPlayer, c.handleKickPlayer)
	c.router.Handle(EventStartGame, c.handleStartGame)
	c.router.Handle(EventWaitingRoom, c.handleWaitingRoom)
	c.router.Handle(EventPlayerReady, c.handlePlayerReady)
	c.router.Handle(EventPlayerChangeCar, c.handlePlayerChangeCar)
	c.router.Handle(EventLoadingGame, c.handleLoadingGame)
	c.router.Handle(EventSyncPosition, c.handleSyncPosition)
	c.router.Handle(EventSyncCarPosition, c.handleSyncCarPosition)
	c.router.Handle(EventPingCheck, c.handlePingCheck)

	return c
}

// Seed 啟動播種：從持久層載入房間結構快照
func (c *Coordinator) Seed(ctx context.Context) error {
	records, err := c.store.GetAllRooms(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.directory.Seed(records)
	count := c.directory.Len()
	c.mu.Unlock()

	c.logger.Info("房間目錄已播種", "rooms", count)
	return nil
}

// HandleConnect 新連線接入
//
// 登錄傳輸握把、簽發連線識別碼，並推送識別碼與當前公開房間列表。
func (c *Coordinator) HandleConnect(t Transport) string {
	c.mu.Lock()
	socketID := c.registry.Register(t)
	c.send(t, EventYourSocketID, yourSocketIDPayload{SocketID: socketID})
	c.send(t, EventRoomListUpdated, roomListPayload{Rooms: c.directory.Summaries()})
	count := c.registry.Count()
	c.mu.Unlock()

	c.logger.Info("連線建立", "socket_id", socketID, "connections", count)
	return socketID
}

// HandleDisconnect 連線斷開或出錯
//
// 冪等：不在註冊表中的連線視為已清理，不再產生任何效果。
// 否則找出包含此連線的至多一個房間並移除其會話——房主斷線
// 觸發房間解散（宿主遷移策略：終結而非移交）。
func (c *Coordinator) HandleDisconnect(socketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registry.Lookup(socketID); !ok {
		return
	}

	room, inRoom := c.directory.RoomBySocket(socketID)
	if inRoom {
		sess, _ := room.RemoveSession(socketID)
		if sess.IsHost {
			c.teardownRoom(room, "host_disconnected")
		} else {
			c.persist("leaveRoom", func(ctx context.Context) error {
				return c.store.LeaveRoom(ctx, room.ID, sess.PlayerID)
			})
			c.persist("updatePlayerStatus", func(ctx context.Context) error {
				return c.store.UpdatePlayerStatus(ctx, sess.PlayerID, PlayerWaiting)
			})
			c.broadcastRoom(room, EventUpdatePlayers, updatePlayersPayload{Players: room.Players()}, "")
			c.broadcastRoom(room, EventPlayerLeft, playerLeftPayload{
				SocketID: sess.SocketID,
				PlayerID: sess.PlayerID,
			}, "")
		}
	}

	c.registry.Remove(socketID)

	if inRoom {
		c.broadcastRoomList()
	}

	c.logger.Info("連線清理完成", "socket_id", socketID, "in_room", inRoom)
}

// HandleMessage 入站訊息
//
// 路由器解析信封並分發給對應處理器。處理器在鎖內完成記憶體
// 變更；回傳的延續（若有）在鎖外執行。
func (c *Coordinator) HandleMessage(socketID string, raw []byte) {
	h, data, appErr := c.router.Route(raw)
	if appErr != nil {
		c.mu.RLock()
		c.replyError(socketID, appErr)
		c.mu.RUnlock()
		return
	}

	c.mu.Lock()
	after := h(socketID, data)
	c.mu.Unlock()

	if after != nil {
		after()
	}
}

// teardownRoom 解散房間（呼叫端須持有寫鎖，且已移除觸發者的會話）
//
// 剩餘會話全部銷毀並通知房間已關閉；持久層記錄非同步刪除。
func (c *Coordinator) teardownRoom(room *Room, reason string) {
	c.directory.Delete(room.ID)

	closed := roomClosedPayload{Reason: reason}
	for socketID := range room.Sessions {
		c.sendTo(socketID, EventRoomClosed, closed)
		c.registry.Unbind(socketID)
	}
	room.Sessions = make(map[string]*PlayerSession)

	c.persist("deleteRoom", func(ctx context.Context) error {
		return c.store.DeleteRoom(ctx, room.ID)
	})
	c.events.RoomClosed(room.ID, reason)
}

// persist 射後不理的持久化呼叫
//
// 失敗記日誌、不重試、不回滾已套用的記憶體變更——記憶體狀態
// 是即時對局的唯一權威，與持久層的落差是被接受的最終一致。
func (c *Coordinator) persist(op string, fn func(context.Context) error) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := fn(context.Background()); err != nil {
			c.logger.Error("持久化呼叫失敗", "op", op, "error", err)
		}
	}()
}

// Stats 統計資訊
func (c *Coordinator) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statusCount := make(map[RoomStatus]int)
	totalPlayers := 0
	for _, summary := range c.directory.Summaries() {
		statusCount[summary.Status]++
		totalPlayers += summary.PlayerCount
	}

	return map[string]any{
		"connections":   c.registry.Count(),
		"total_rooms":   c.directory.Len(),
		"total_players": totalPlayers,
		"by_status":     statusCount,
	}
}

// Shutdown 優雅關閉
//
// 通知所有連線伺服器關閉並關閉傳輸，然後等待在途的持久化呼叫，
// 直到完成或逾時。
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	closed := roomClosedPayload{Reason: "server_shutdown"}
	for _, t := range c.registry.Transports() {
		c.send(t, EventRoomClosed, closed)
		_ = t.Close()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("協調器已關閉")
	case <-ctx.Done():
		c.logger.Warn("協調器關閉逾時，放棄等待在途持久化呼叫")
	}
}
