package internal

import (
	"context"
	"encoding/json"
	"errors"

	apperrors "github.com/koopa0/racing-lobby/pkg/errors"
)

// 會話狀態機：路由器分發下來的事件處理器。
//
// 每個處理器都必須容忍過期或重複的訊息——投遞是至多一次、
// 且與其他連線之間無序。使用者主動的操作（建立、加入、踢人、
// 開賽）在前置條件不符時回錯誤；高頻或可能晚到的事件（準備、
// 載入、位置同步）則靜默忽略，避免與斷線處理的良性競態
// 產生錯誤噪音。
//
// 兩段式結構：處理器本體在協調器鎖內執行；需要等待持久層的
// 路徑（取玩家檔案、簽發房間編號、開賽確認）回傳延續在鎖外
// 執行，完成後重新取鎖並重檢前置條件。

// handleCreateRoom 建立房間
//
// 發送者成為唯一的房主會話。房間編號由持久層簽發，因此建立
// 是少數需要等待持久層的路徑。
func (c *Coordinator) handleCreateRoom(socketID string, data json.RawMessage) func() {
	var req createRoomPayload
	if err := decodePayload(data, &req); err != nil {
		c.replyError(socketID, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "Missing required field."))
		return nil
	}
	if req.PlayerID == "" {
		c.replyError(socketID, apperrors.ErrMissingField.WithDetails("playerId"))
		return nil
	}
	if _, in := c.directory.RoomBySocket(socketID); in {
		c.replyError(socketID, apperrors.ErrAlreadyInRoom)
		return nil
	}
	if _, in := c.directory.RoomByPlayer(req.PlayerID); in {
		c.replyError(socketID, apperrors.ErrAlreadyInRoom)
		return nil
	}

	return func() {
		ctx := context.Background()

		profile, err := c.store.GetPlayerByID(ctx, req.PlayerID)
		if err != nil {
			c.replyStoreError(socketID, err, apperrors.ErrCreateRoomFailed)
			return
		}

		rec, err := c.store.CreateRoom(ctx, RoomProps{Value: req.Value, Password: req.Password})
		if err != nil {
			c.logger.Error("建立房間持久化失敗", "player_id", req.PlayerID, "error", err)
			c.mu.RLock()
			c.replyError(socketID, apperrors.ErrCreateRoomFailed)
			c.mu.RUnlock()
			return
		}

		c.mu.Lock()
		// 等待期間發送者可能已斷線或加入了其他房間，
		// 孤兒記錄交還持久層刪除
		_, connected := c.registry.Lookup(socketID)
		_, inRoom := c.directory.RoomBySocket(socketID)
		if !connected || inRoom {
			c.mu.Unlock()
			c.persist("deleteRoom", func(ctx context.Context) error {
				return c.store.DeleteRoom(ctx, rec.ID)
			})
			return
		}

		sess := newSession(socketID, profile)
		room := NewRoom(rec.ID, rec.Value, rec.Password, sess)
		c.directory.Add(room)
		c.registry.Bind(socketID, profile.ID)

		c.sendTo(socketID, EventRoomDetails, room.Details())
		c.broadcastRoomList()
		summary := room.Summary()
		c.mu.Unlock()

		c.persist("addPlayerToRoom", func(ctx context.Context) error {
			return c.store.AddPlayerToRoom(ctx, rec.ID, profile.ID)
		})
		c.persist("updatePlayerSocket", func(ctx context.Context) error {
			return c.store.UpdatePlayerSocket(ctx, profile.ID, socketID, true)
		})
		c.events.RoomCreated(summary)

		c.logger.Info("房間已建立", "room_id", rec.ID, "host", profile.ID, "value", rec.Value)
	}
}

// handleJoinRoom 加入房間
func (c *Coordinator) handleJoinRoom(socketID string, data json.RawMessage) func() {
	var req joinRoomPayload
	if err := decodePayload(data, &req); err != nil {
		c.replyError(socketID, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "Missing required field."))
		return nil
	}
	if req.RoomID == 0 || req.PlayerID == "" {
		c.replyError(socketID, apperrors.ErrMissingField)
		return nil
	}
	if appErr := c.checkJoin(socketID, &req); appErr != nil {
		c.replyError(socketID, appErr)
		return nil
	}

	return func() {
		profile, err := c.store.GetPlayerByID(context.Background(), req.PlayerID)
		if err != nil {
			c.replyStoreError(socketID, err, apperrors.New(apperrors.ErrCodeInternal, "Could not join the room."))
			return
		}

		c.mu.Lock()
		// 等待取檔案期間房間可能已解散、開賽或被填滿，重檢所有前置條件
		if appErr := c.checkJoin(socketID, &req); appErr != nil {
			c.replyError(socketID, appErr)
			c.mu.Unlock()
			return
		}
		if _, connected := c.registry.Lookup(socketID); !connected {
			c.mu.Unlock()
			return
		}

		room, _ := c.directory.Get(req.RoomID)
		sess := newSession(socketID, profile)
		room.AddSession(sess)
		c.registry.Bind(socketID, profile.ID)

		c.sendTo(socketID, EventRoomDetails, room.Details())
		c.broadcastRoom(room, EventPlayerJoined, playerJoinedPayload{Player: sess}, socketID)
		c.broadcastRoom(room, EventUpdatePlayers, updatePlayersPayload{Players: room.Players()}, socketID)
		c.broadcastRoomList()
		c.mu.Unlock()

		c.persist("addPlayerToRoom", func(ctx context.Context) error {
			return c.store.AddPlayerToRoom(ctx, req.RoomID, profile.ID)
		})
		c.persist("updatePlayerSocket", func(ctx context.Context) error {
			return c.store.UpdatePlayerSocket(ctx, profile.ID, socketID, false)
		})

		c.logger.Info("玩家加入房間", "room_id", req.RoomID, "player_id", profile.ID)
	}
}

// checkJoin 加入房間的前置條件（呼叫端須持有鎖）
func (c *Coordinator) checkJoin(socketID string, req *joinRoomPayload) *apperrors.AppError {
	room, ok := c.directory.Get(req.RoomID)
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	if room.Status != StatusWaiting {
		return apperrors.ErrGameInProgress
	}
	if !room.CheckPassword(req.Password) {
		return apperrors.ErrIncorrectPassword
	}
	if room.PlayerCount() >= c.maxPlayers {
		return apperrors.ErrRoomFull
	}
	if _, in := c.directory.RoomBySocket(socketID); in {
		return apperrors.ErrAlreadyInRoom
	}
	if _, in := c.directory.RoomByPlayer(req.PlayerID); in {
		return apperrors.ErrAlreadyInRoom
	}
	return nil
}

// handleLeaveRoom 離開房間（作用於發送者自身的連線）
//
// 發送者不在任何房間時是靜默 no-op：離開訊息可能與斷線清理交錯。
func (c *Coordinator) handleLeaveRoom(socketID string, _ json.RawMessage) func() {
	room, in := c.directory.RoomBySocket(socketID)
	if !in {
		return nil
	}

	sess, _ := room.RemoveSession(socketID)
	if sess.IsHost {
		// 宿主遷移策略：房主離開即解散，不移交
		c.teardownRoom(room, "host_left")
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

	c.registry.Unbind(socketID)
	c.broadcastRoomList()

	c.logger.Info("玩家離開房間", "room_id", room.ID, "player_id", sess.PlayerID, "was_host", sess.IsHost)
	return nil
}

// handleKickPlayer 踢出玩家（房主限定）
func (c *Coordinator) handleKickPlayer(socketID string, data json.RawMessage) func() {
	var req kickPlayerPayload
	if err := decodePayload(data, &req); err != nil {
		c.replyError(socketID, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "Missing required field."))
		return nil
	}

	room, ok := c.directory.Get(req.RoomID)
	if !ok {
		c.replyError(socketID, apperrors.ErrRoomNotFound)
		return nil
	}
	if !room.IsHost(socketID) {
		c.replyError(socketID, apperrors.ErrNotHost)
		return nil
	}
	if req.TargetSocketID == socketID {
		c.replyError(socketID, apperrors.ErrCannotKickSelf)
		return nil
	}
	target, ok := room.Session(req.TargetSocketID)
	if !ok {
		c.replyError(socketID, apperrors.ErrPlayerNotFound)
		return nil
	}

	// 先通知被踢者，再移除其會話
	c.sendTo(target.SocketID, EventKicked, kickedPayload{
		RoomID: room.ID,
		Reason: "kicked_by_host",
	})

	room.RemoveSession(target.SocketID)
	c.registry.Unbind(target.SocketID)

	c.persist("leaveRoom", func(ctx context.Context) error {
		return c.store.LeaveRoom(ctx, room.ID, target.PlayerID)
	})
	c.persist("updatePlayerStatus", func(ctx context.Context) error {
		return c.store.UpdatePlayerStatus(ctx, target.PlayerID, PlayerWaiting)
	})

	c.broadcastRoom(room, EventUpdatePlayers, updatePlayersPayload{Players: room.Players()}, "")
	c.broadcastRoom(room, EventPlayerKicked, playerKickedPayload{
		SocketID: target.SocketID,
		PlayerID: target.PlayerID,
	}, "")
	c.broadcastRoomList()

	c.logger.Info("玩家被踢出", "room_id", room.ID, "player_id", target.PlayerID)
	return nil
}

// handleStartGame 開賽（房主限定）
//
// Waiting → Running。先改記憶體，再等待持久層確認——失敗時
// 回滾狀態與準備狀態並重新廣播，這是唯一有回滾的持久化路徑。
func (c *Coordinator) handleStartGame(socketID string, data json.RawMessage) func() {
	var req startGamePayload
	if err := decodePayload(data, &req); err != nil {
		c.replyError(socketID, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "Missing required field."))
		return nil
	}

	room, ok := c.directory.Get(req.RoomID)
	if !ok {
		c.replyError(socketID, apperrors.ErrRoomNotFound)
		return nil
	}
	if !room.IsHost(socketID) {
		c.replyError(socketID, apperrors.ErrNotHost)
		return nil
	}
	if room.Status != StatusWaiting {
		c.replyError(socketID, apperrors.ErrGameInProgress)
		return nil
	}
	if !req.Force && !room.AllReady() {
		c.replyError(socketID, apperrors.ErrNotAllReady)
		return nil
	}

	room.BeginRace()

	roomID := room.ID
	track := req.Map

	return func() {
		err := c.store.UpdateRoomStatus(context.Background(), roomID, StatusRunning)

		c.mu.Lock()
		room, ok := c.directory.Get(roomID)
		if !ok || room.Status != StatusRunning {
			// 等待期間房間已解散或被重置，此輪開賽作廢
			c.mu.Unlock()
			return
		}

		if err != nil {
			c.logger.Error("開賽持久化失敗，回滾", "room_id", roomID, "error", err)
			room.RevertRace()
			c.broadcastRoom(room, EventGameStartFailed, struct{}{}, "")
			c.broadcastRoom(room, EventUpdatePlayers, updatePlayersPayload{Players: room.Players()}, "")
			c.mu.Unlock()
			return
		}

		players := room.Players()
		c.broadcastRoom(room, EventGameStarted, gameStartedPayload{
			RoomID:  roomID,
			Map:     track,
			Status:  StatusRunning,
			Players: players,
		}, "")
		c.broadcastRoomList()
		c.mu.Unlock()

		playerIDs := make([]string, 0, len(players))
		for _, p := range players {
			playerIDs = append(playerIDs, p.PlayerID)
			playerID := p.PlayerID
			c.persist("updatePlayerStatus", func(ctx context.Context) error {
				return c.store.UpdatePlayerStatus(ctx, playerID, PlayerWaiting)
			})
		}
		c.events.RaceStarted(roomID, track, playerIDs)

		c.logger.Info("比賽開始", "room_id", roomID, "map", track, "players", len(playerIDs))
	}
}

// handleWaitingRoom 賽後重置（房主限定）
//
// Running → Waiting。非房主的準備狀態歸零。
func (c *Coordinator) handleWaitingRoom(socketID string, data json.RawMessage) func() {
	var req waitingRoomPayload
	if err := decodePayload(data, &req); err != nil {
		c.replyError(socketID, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "Missing required field."))
		return nil
	}

	room, ok := c.directory.Get(req.RoomID)
	if !ok {
		c.replyError(socketID, apperrors.ErrRoomNotFound)
		return nil
	}
	if !room.IsHost(socketID) {
		c.replyError(socketID, apperrors.ErrNotHost)
		return nil
	}

	wasRunning := room.Status == StatusRunning
	room.ResetToWaiting()

	c.persist("updateRoomStatus", func(ctx context.Context) error {
		return c.store.UpdateRoomStatus(ctx, room.ID, StatusWaiting)
	})
	for _, s := range room.Sessions {
		if s.IsHost {
			continue
		}
		playerID := s.PlayerID
		c.persist("updatePlayerStatus", func(ctx context.Context) error {
			return c.store.UpdatePlayerStatus(ctx, playerID, PlayerWaiting)
		})
	}

	c.broadcastRoom(room, EventUpdateWaitingRoom, updateWaitingRoomPayload{
		RoomID: room.ID,
		Status: StatusWaiting,
	}, "")
	c.broadcastRoom(room, EventUpdatePlayers, updatePlayersPayload{Players: room.Players()}, "")
	c.broadcastRoomList()

	if wasRunning {
		c.events.RaceFinished(room.ID)
	}

	c.logger.Info("房間重置回等待室", "room_id", room.ID)
	return nil
}

// handlePlayerReady 玩家準備
//
// 晚到或過期的訊息一律靜默忽略；重複準備是無害的 no-op。
func (c *Coordinator) handlePlayerReady(socketID string, data json.RawMessage) func() {
	var req playerReadyPayload
	if err := decodePayload(data, &req); err != nil {
		c.replyError(socketID, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "Missing required field."))
		return nil
	}

	room, ok := c.directory.Get(req.RoomID)
	if !ok || room.Status != StatusWaiting {
		return nil
	}
	sess, ok := room.Session(socketID)
	if !ok || sess.PlayerID != req.PlayerID {
		return nil
	}
	if sess.Status == PlayerReady {
		return nil
	}

	sess.Status = PlayerReady
	c.persist("updatePlayerStatus", func(ctx context.Context) error {
		return c.store.UpdatePlayerStatus(ctx, sess.PlayerID, PlayerReady)
	})

	c.broadcastRoom(room, EventUpdatePlayers, updatePlayersPayload{Players: room.Players()}, "")
	c.broadcastRoom(room, EventPlayerIsReady, playerIsReadyPayload{
		SocketID: sess.SocketID,
		PlayerID: sess.PlayerID,
	}, "")
	return nil
}

// handlePlayerChangeCar 更換車輛
//
// 只允許在 Waiting 狀態換車；未擁有的車輛明確拒絕。
func (c *Coordinator) handlePlayerChangeCar(socketID string, data json.RawMessage) func() {
	var req playerChangeCarPayload
	if err := decodePayload(data, &req); err != nil {
		c.replyError(socketID, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "Missing required field."))
		return nil
	}

	room, ok := c.directory.Get(req.RoomID)
	if !ok || room.Status != StatusWaiting {
		return nil
	}
	sess, ok := room.Session(socketID)
	if !ok || sess.PlayerID != req.PlayerID {
		return nil
	}
	if sess.MainCar == req.MainCar {
		return nil
	}
	if !sess.OwnsCar(req.MainCar) {
		c.replyError(socketID, apperrors.ErrCarNotOwned)
		return nil
	}

	sess.MainCar = req.MainCar
	c.persist("updateMainCar", func(ctx context.Context) error {
		return c.store.UpdateMainCar(ctx, sess.PlayerID, req.MainCar)
	})

	c.broadcastRoom(room, EventUpdatePlayers, updatePlayersPayload{Players: room.Players()}, "")
	return nil
}

// handleLoadingGame 載入完成回報
//
// 每次回報後重算載入屏障：所有在線會話都完成載入時，本輪
// Running 廣播一次 allPlayersLoaded。
func (c *Coordinator) handleLoadingGame(socketID string, data json.RawMessage) func() {
	var req loadingGamePayload
	if err := decodePayload(data, &req); err != nil {
		return nil
	}

	room, ok := c.directory.Get(req.RoomID)
	if !ok || room.Status != StatusRunning {
		return nil
	}
	sess, ok := room.Session(socketID)
	if !ok || sess.PlayerID != req.PlayerID {
		return nil
	}
	if sess.Loaded {
		return nil
	}

	sess.Loaded = true
	c.broadcastRoom(room, EventUpdatePlayers, updatePlayersPayload{Players: room.Players()}, "")

	if room.LoadBarrierMet() {
		c.broadcastRoom(room, EventAllPlayersLoaded, allPlayersLoadedPayload{RoomID: room.ID}, "")
		c.logger.Info("所有玩家載入完成", "room_id", room.ID)
	}
	return nil
}

// handleSyncPosition 位置同步（高頻）
//
// 任何守衛失敗都靜默丟棄——高頻訊息不得產生錯誤流量。
// 更新發送者的運動狀態並轉發給房間內其他人。
func (c *Coordinator) handleSyncPosition(socketID string, data json.RawMessage) func() {
	var req syncPositionPayload
	if err := decodePayload(data, &req); err != nil {
		return nil
	}

	room, ok := c.directory.Get(req.RoomID)
	if !ok || room.Status != StatusRunning {
		return nil
	}
	sess, ok := room.Session(socketID)
	if !ok {
		return nil
	}

	sess.Transform = Transform{
		Position: req.Position,
		Rotation: req.Rotation,
		Speed:    req.Speed,
		Distance: req.Distance,
	}

	c.broadcastRoom(room, EventPlayerPositionUpdate, playerPositionUpdatePayload{
		SocketID: socketID,
		Position: req.Position,
		Rotation: req.Rotation,
		Speed:    req.Speed,
		Distance: req.Distance,
	}, socketID)
	return nil
}

// handleSyncCarPosition 車體視覺同步（高頻，純轉發）
//
// 次要視覺資料，不回寫會話狀態。
func (c *Coordinator) handleSyncCarPosition(socketID string, data json.RawMessage) func() {
	var req syncCarPositionPayload
	if err := decodePayload(data, &req); err != nil {
		return nil
	}

	room, ok := c.directory.Get(req.RoomID)
	if !ok || room.Status != StatusRunning {
		return nil
	}
	if _, ok := room.Session(socketID); !ok {
		return nil
	}

	c.broadcastRoom(room, EventCarPositionUpdate, carPositionUpdatePayload{
		SocketID: socketID,
		Position: req.Position,
		Rotation: req.Rotation,
		Speed:    req.Speed,
	}, socketID)
	return nil
}

// handlePingCheck 應用層心跳
func (c *Coordinator) handlePingCheck(socketID string, _ json.RawMessage) func() {
	c.sendTo(socketID, EventPingResponse, struct{}{})
	return nil
}

// newSession 從玩家檔案建立會話投影
func newSession(socketID string, profile PlayerRecord) *PlayerSession {
	return &PlayerSession{
		SocketID:  socketID,
		PlayerID:  profile.ID,
		Name:      profile.Name,
		Status:    PlayerWaiting,
		MainCar:   profile.MainCar,
		OwnedCars: profile.OwnedCars,
	}
}

// replyStoreError 把持久層錯誤轉成對玩家的回覆（取讀鎖）
func (c *Coordinator) replyStoreError(socketID string, err error, fallback *apperrors.AppError) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if errors.Is(err, ErrNotFound) {
		c.replyError(socketID, apperrors.ErrPlayerNotFound)
		return
	}
	c.logger.Error("持久層讀取失敗", "error", err)
	c.replyError(socketID, fallback)
}
