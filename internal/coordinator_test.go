package internal_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/racing-lobby/internal"
	"github.com/koopa0/racing-lobby/internal/testutils"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// sendMsg 以 {event, data} 信封送出一則入站訊息
func sendMsg(t *testing.T, c *internal.Coordinator, socketID, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": payload})
	require.NoError(t, err)
	c.HandleMessage(socketID, raw)
}

// eventNames 傳輸握把收到的事件標籤序列
func eventNames(ft *testutils.FakeTransport) []string {
	envelopes := ft.Envelopes()
	names := make([]string, 0, len(envelopes))
	for _, env := range envelopes {
		names = append(names, env.Event)
	}
	return names
}

// decodeLast 解出最後一則指定事件的負載，找不到則測試失敗
func decodeLast(t *testing.T, ft *testutils.FakeTransport, event string, out any) {
	t.Helper()
	envelopes := ft.Envelopes()
	for i := len(envelopes) - 1; i >= 0; i-- {
		if envelopes[i].Event == event {
			require.NoError(t, json.Unmarshal(envelopes[i].Data, out))
			return
		}
	}
	t.Fatalf("event %q not received, got %v", event, eventNames(ft))
}

// hasEvent 傳輸握把是否收到過指定事件
func hasEvent(ft *testutils.FakeTransport, event string) bool {
	for _, env := range ft.Envelopes() {
		if env.Event == event {
			return true
		}
	}
	return false
}

// lastErrorMessage 最後一則 error 事件的訊息
func lastErrorMessage(t *testing.T, ft *testutils.FakeTransport) string {
	t.Helper()
	var payload struct {
		Message string `json:"message"`
	}
	decodeLast(t, ft, "error", &payload)
	return payload.Message
}

// playersOf 最後一則 updatePlayers 的玩家清單
func playersOf(t *testing.T, ft *testutils.FakeTransport) []internal.PlayerSession {
	t.Helper()
	var payload struct {
		Players []internal.PlayerSession `json:"players"`
	}
	decodeLast(t, ft, "updatePlayers", &payload)
	return payload.Players
}

// testRoomID 最後一則 roomDetails 裡的房間編號
func testRoomID(t *testing.T, ft *testutils.FakeTransport) int64 {
	t.Helper()
	var payload struct {
		ID int64 `json:"id"`
	}
	decodeLast(t, ft, "roomDetails", &payload)
	return payload.ID
}

// lobby 兩人房間的測試夾具：p1 為房主、p2 為成員
type lobby struct {
	c       *internal.Coordinator
	store   *testutils.FakeStore
	hostID  string
	hostTr  *testutils.FakeTransport
	guestID string
	guestTr *testutils.FakeTransport
	roomID  int64
}

// newTestCoordinator 建立掛著 FakeStore 的協調器
func newTestCoordinator(t *testing.T, opts ...internal.Option) (*internal.Coordinator, *testutils.FakeStore) {
	t.Helper()
	store := testutils.NewFakeStore()
	store.AddPlayer(internal.PlayerRecord{
		ID: "p1", Name: "Alice", Status: internal.PlayerWaiting, MainCar: 1, OwnedCars: []int64{1, 2},
	})
	store.AddPlayer(internal.PlayerRecord{
		ID: "p2", Name: "Bob", Status: internal.PlayerWaiting, MainCar: 3, OwnedCars: []int64{3, 4},
	})
	return internal.NewCoordinator(store, nil, testLogger(), opts...), store
}

// newLobby 連上兩位玩家並建好一間雙人房
func newLobby(t *testing.T, opts ...internal.Option) *lobby {
	t.Helper()

	c, store := newTestCoordinator(t, opts...)

	hostTr := testutils.NewFakeTransport()
	hostID := c.HandleConnect(hostTr)
	guestTr := testutils.NewFakeTransport()
	guestID := c.HandleConnect(guestTr)

	sendMsg(t, c, hostID, "createRoom", map[string]any{"value": 100, "playerId": "p1"})
	roomID := testRoomID(t, hostTr)

	sendMsg(t, c, guestID, "joinRoom", map[string]any{"roomID": roomID, "playerId": "p2"})
	require.True(t, hasEvent(guestTr, "roomDetails"), "guest should have joined: %v", eventNames(guestTr))

	return &lobby{
		c: c, store: store,
		hostID: hostID, hostTr: hostTr,
		guestID: guestID, guestTr: guestTr,
		roomID: roomID,
	}
}

// readyBoth 兩人都按下準備
func (l *lobby) readyBoth(t *testing.T) {
	t.Helper()
	sendMsg(t, l.c, l.hostID, "playerReady", map[string]any{"roomID": l.roomID, "playerID": "p1"})
	sendMsg(t, l.c, l.guestID, "playerReady", map[string]any{"roomID": l.roomID, "playerID": "p2"})
}

// TestCoordinator_Connect 測試連線接入
func TestCoordinator_Connect(t *testing.T) {
	c, _ := newTestCoordinator(t)

	ft := testutils.NewFakeTransport()
	socketID := c.HandleConnect(ft)

	// 先收到簽發的連線識別碼，再收到當前房間列表
	var idPayload struct {
		SocketID string `json:"socketID"`
	}
	decodeLast(t, ft, "yourSocketId", &idPayload)
	assert.Equal(t, socketID, idPayload.SocketID)

	var listPayload struct {
		Rooms []internal.RoomSummary `json:"rooms"`
	}
	decodeLast(t, ft, "roomListUpdated", &listPayload)
	assert.Empty(t, listPayload.Rooms)
}

// TestCoordinator_CreateRoom 測試建立房間
func TestCoordinator_CreateRoom(t *testing.T) {
	c, store := newTestCoordinator(t)

	ft := testutils.NewFakeTransport()
	socketID := c.HandleConnect(ft)
	other := testutils.NewFakeTransport()
	c.HandleConnect(other)

	sendMsg(t, c, socketID, "createRoom", map[string]any{"value": 100, "password": "secret", "playerId": "p1"})

	// 建立者收到房間詳情並成為房主
	var details struct {
		ID          int64                    `json:"id"`
		Status      internal.RoomStatus      `json:"status"`
		Value       int64                    `json:"value"`
		PlayerCount int                      `json:"playerCount"`
		Players     []internal.PlayerSession `json:"players"`
	}
	decodeLast(t, ft, "roomDetails", &details)
	assert.Equal(t, internal.StatusWaiting, details.Status)
	assert.Equal(t, int64(100), details.Value)
	assert.Equal(t, 1, details.PlayerCount)
	require.Len(t, details.Players, 1)
	assert.True(t, details.Players[0].IsHost)
	assert.Equal(t, "p1", details.Players[0].PlayerID)

	// 所有連線都收到更新後的房間列表
	var list struct {
		Rooms []internal.RoomSummary `json:"rooms"`
	}
	decodeLast(t, other, "roomListUpdated", &list)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, details.ID, list.Rooms[0].ID)
	assert.True(t, list.Rooms[0].IsPassword)
	assert.Equal(t, 1, list.Rooms[0].PlayerCount)

	assert.Equal(t, int32(1), store.CreateRoomCalls.Load())

	// 成員記錄與連線綁定是射後不理的持久化
	require.Eventually(t, func() bool {
		return store.AddPlayerToRoomCalls.Load() == 1 && store.UpdatePlayerSocketCalls.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

// TestCoordinator_CreateRoom_Errors 測試建立房間的失敗回覆
func TestCoordinator_CreateRoom_Errors(t *testing.T) {
	t.Run("missing playerId", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		ft := testutils.NewFakeTransport()
		socketID := c.HandleConnect(ft)

		sendMsg(t, c, socketID, "createRoom", map[string]any{"value": 100})
		assert.Equal(t, "Missing required field.", lastErrorMessage(t, ft))
	})

	t.Run("unknown player", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		ft := testutils.NewFakeTransport()
		socketID := c.HandleConnect(ft)

		sendMsg(t, c, socketID, "createRoom", map[string]any{"value": 100, "playerId": "ghost"})
		assert.Equal(t, "Player not found.", lastErrorMessage(t, ft))
	})

	t.Run("persistence failure", func(t *testing.T) {
		c, store := newTestCoordinator(t)
		store.CreateRoomErr = assert.AnError
		ft := testutils.NewFakeTransport()
		socketID := c.HandleConnect(ft)

		sendMsg(t, c, socketID, "createRoom", map[string]any{"value": 100, "playerId": "p1"})
		assert.Equal(t, "Could not create the room.", lastErrorMessage(t, ft))
		assert.False(t, hasEvent(ft, "roomDetails"))
	})

	t.Run("already in a room", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		ft := testutils.NewFakeTransport()
		socketID := c.HandleConnect(ft)

		sendMsg(t, c, socketID, "createRoom", map[string]any{"value": 100, "playerId": "p1"})
		require.True(t, hasEvent(ft, "roomDetails"))

		sendMsg(t, c, socketID, "createRoom", map[string]any{"value": 200, "playerId": "p1"})
		assert.Equal(t, "Already in a room.", lastErrorMessage(t, ft))
	})
}

// TestCoordinator_JoinRoom 測試加入房間
func TestCoordinator_JoinRoom(t *testing.T) {
	l := newLobby(t)

	// 加入者收到完整詳情
	var details struct {
		PlayerCount int                      `json:"playerCount"`
		Players     []internal.PlayerSession `json:"players"`
	}
	decodeLast(t, l.guestTr, "roomDetails", &details)
	assert.Equal(t, 2, details.PlayerCount)
	assert.Len(t, details.Players, 2)

	// 房主收到新成員通知
	var joined struct {
		Player internal.PlayerSession `json:"player"`
	}
	decodeLast(t, l.hostTr, "playerJoined", &joined)
	assert.Equal(t, "p2", joined.Player.PlayerID)
	assert.False(t, joined.Player.IsHost)
	assert.Len(t, playersOf(t, l.hostTr), 2)
}

// TestCoordinator_JoinRoom_Guards 測試加入房間的前置條件
func TestCoordinator_JoinRoom_Guards(t *testing.T) {
	seedThird := func(store *testutils.FakeStore) {
		store.AddPlayer(internal.PlayerRecord{
			ID: "p3", Name: "Carol", Status: internal.PlayerWaiting, MainCar: 5, OwnedCars: []int64{5},
		})
	}

	t.Run("room not found", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		ft := testutils.NewFakeTransport()
		socketID := c.HandleConnect(ft)

		sendMsg(t, c, socketID, "joinRoom", map[string]any{"roomID": 404, "playerId": "p1"})
		assert.Equal(t, "Room not found.", lastErrorMessage(t, ft))
	})

	t.Run("incorrect password", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		hostTr := testutils.NewFakeTransport()
		hostID := c.HandleConnect(hostTr)
		sendMsg(t, c, hostID, "createRoom", map[string]any{"value": 100, "password": "secret", "playerId": "p1"})
		roomID := testRoomID(t, hostTr)

		ft := testutils.NewFakeTransport()
		socketID := c.HandleConnect(ft)
		sendMsg(t, c, socketID, "joinRoom", map[string]any{"roomID": roomID, "playerId": "p2", "password": "guess"})
		assert.Equal(t, "Incorrect password.", lastErrorMessage(t, ft))
		assert.False(t, hasEvent(ft, "roomDetails"))
	})

	t.Run("room is full", func(t *testing.T) {
		l := newLobby(t, internal.WithMaxPlayers(2))
		seedThird(l.store)

		ft := testutils.NewFakeTransport()
		socketID := l.c.HandleConnect(ft)
		sendMsg(t, l.c, socketID, "joinRoom", map[string]any{"roomID": l.roomID, "playerId": "p3"})
		assert.Equal(t, "Room is full.", lastErrorMessage(t, ft))
	})

	t.Run("game already started", func(t *testing.T) {
		l := newLobby(t)
		seedThird(l.store)
		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert", "force": true})

		ft := testutils.NewFakeTransport()
		socketID := l.c.HandleConnect(ft)
		sendMsg(t, l.c, socketID, "joinRoom", map[string]any{"roomID": l.roomID, "playerId": "p3"})
		assert.Equal(t, "Game already started.", lastErrorMessage(t, ft))
	})

	t.Run("player already in a room", func(t *testing.T) {
		l := newLobby(t)

		// 同一位玩家從另一條連線再加入
		ft := testutils.NewFakeTransport()
		socketID := l.c.HandleConnect(ft)
		sendMsg(t, l.c, socketID, "joinRoom", map[string]any{"roomID": l.roomID, "playerId": "p2"})
		assert.Equal(t, "Already in a room.", lastErrorMessage(t, ft))
	})
}

// TestCoordinator_LeaveRoom 測試離開房間
func TestCoordinator_LeaveRoom(t *testing.T) {
	t.Run("member leaves", func(t *testing.T) {
		l := newLobby(t)

		sendMsg(t, l.c, l.guestID, "leaveRoom", nil)

		var left struct {
			SocketID string `json:"socketID"`
			PlayerID string `json:"playerId"`
		}
		decodeLast(t, l.hostTr, "playerLeft", &left)
		assert.Equal(t, l.guestID, left.SocketID)
		assert.Equal(t, "p2", left.PlayerID)
		assert.Len(t, playersOf(t, l.hostTr), 1)

		// 房間還在，只是少了一個人
		var list struct {
			Rooms []internal.RoomSummary `json:"rooms"`
		}
		decodeLast(t, l.guestTr, "roomListUpdated", &list)
		require.Len(t, list.Rooms, 1)
		assert.Equal(t, 1, list.Rooms[0].PlayerCount)

		require.Eventually(t, func() bool {
			return l.store.LeaveRoomCalls.Load() == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("host leaves, room dies", func(t *testing.T) {
		l := newLobby(t)

		sendMsg(t, l.c, l.hostID, "leaveRoom", nil)

		var closed struct {
			Reason string `json:"reason"`
		}
		decodeLast(t, l.guestTr, "roomClosed", &closed)
		assert.Equal(t, "host_left", closed.Reason)

		var list struct {
			Rooms []internal.RoomSummary `json:"rooms"`
		}
		decodeLast(t, l.guestTr, "roomListUpdated", &list)
		assert.Empty(t, list.Rooms)

		require.Eventually(t, func() bool {
			return l.store.DeleteRoomCalls.Load() == 1
		}, time.Second, 10*time.Millisecond)

		// 成員解綁後可以立刻開自己的房
		l.guestTr.Reset()
		sendMsg(t, l.c, l.guestID, "createRoom", map[string]any{"value": 50, "playerId": "p2"})
		assert.True(t, hasEvent(l.guestTr, "roomDetails"), "got %v", eventNames(l.guestTr))
	})

	t.Run("not in a room is a no-op", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		ft := testutils.NewFakeTransport()
		socketID := c.HandleConnect(ft)
		ft.Reset()

		sendMsg(t, c, socketID, "leaveRoom", nil)
		assert.Empty(t, ft.Envelopes())
	})
}

// TestCoordinator_KickPlayer 測試踢人
func TestCoordinator_KickPlayer(t *testing.T) {
	t.Run("host kicks member", func(t *testing.T) {
		l := newLobby(t)

		sendMsg(t, l.c, l.hostID, "kickPlayer", map[string]any{"roomID": l.roomID, "targetSocketID": l.guestID})

		// 被踢者在移除前收到通知
		var kicked struct {
			RoomID int64  `json:"roomID"`
			Reason string `json:"reason"`
		}
		decodeLast(t, l.guestTr, "kicked", &kicked)
		assert.Equal(t, l.roomID, kicked.RoomID)
		assert.Equal(t, "kicked_by_host", kicked.Reason)

		var kickedOut struct {
			SocketID string `json:"socketID"`
			PlayerID string `json:"playerId"`
		}
		decodeLast(t, l.hostTr, "playerKicked", &kickedOut)
		assert.Equal(t, "p2", kickedOut.PlayerID)
		assert.Len(t, playersOf(t, l.hostTr), 1)

		// 被踢者可以再次加入
		l.guestTr.Reset()
		sendMsg(t, l.c, l.guestID, "joinRoom", map[string]any{"roomID": l.roomID, "playerId": "p2"})
		assert.True(t, hasEvent(l.guestTr, "roomDetails"), "got %v", eventNames(l.guestTr))
	})

	t.Run("member cannot kick", func(t *testing.T) {
		l := newLobby(t)
		sendMsg(t, l.c, l.guestID, "kickPlayer", map[string]any{"roomID": l.roomID, "targetSocketID": l.hostID})
		assert.Equal(t, "Only the host can do that.", lastErrorMessage(t, l.guestTr))
	})

	t.Run("host cannot kick self", func(t *testing.T) {
		l := newLobby(t)
		sendMsg(t, l.c, l.hostID, "kickPlayer", map[string]any{"roomID": l.roomID, "targetSocketID": l.hostID})
		assert.Equal(t, "You cannot kick yourself.", lastErrorMessage(t, l.hostTr))
	})

	t.Run("target not in room", func(t *testing.T) {
		l := newLobby(t)
		sendMsg(t, l.c, l.hostID, "kickPlayer", map[string]any{"roomID": l.roomID, "targetSocketID": "sock_ghost"})
		assert.Equal(t, "Player not found.", lastErrorMessage(t, l.hostTr))
	})
}

// TestCoordinator_StartGame 測試開賽
func TestCoordinator_StartGame(t *testing.T) {
	t.Run("all ready", func(t *testing.T) {
		l := newLobby(t)
		l.readyBoth(t)

		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert"})

		var started struct {
			RoomID  int64                    `json:"roomID"`
			Map     string                   `json:"map"`
			Status  internal.RoomStatus      `json:"status"`
			Players []internal.PlayerSession `json:"players"`
		}
		decodeLast(t, l.guestTr, "gameStarted", &started)
		assert.Equal(t, l.roomID, started.RoomID)
		assert.Equal(t, "desert", started.Map)
		assert.Equal(t, internal.StatusRunning, started.Status)
		assert.Len(t, started.Players, 2)
		assert.True(t, hasEvent(l.hostTr, "gameStarted"))

		// 開賽確認是同步等待的持久化路徑
		assert.Equal(t, int32(1), l.store.UpdateRoomStatusCalls.Load())
	})

	t.Run("not all ready", func(t *testing.T) {
		l := newLobby(t)
		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert"})
		assert.Equal(t, "Not all players are ready.", lastErrorMessage(t, l.hostTr))
		assert.False(t, hasEvent(l.guestTr, "gameStarted"))
	})

	t.Run("force start skips readiness", func(t *testing.T) {
		l := newLobby(t)
		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert", "force": true})
		assert.True(t, hasEvent(l.guestTr, "gameStarted"))
	})

	t.Run("member cannot start", func(t *testing.T) {
		l := newLobby(t)
		l.readyBoth(t)
		sendMsg(t, l.c, l.guestID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert"})
		assert.Equal(t, "Only the host can do that.", lastErrorMessage(t, l.guestTr))
	})

	t.Run("double start rejected", func(t *testing.T) {
		l := newLobby(t)
		l.readyBoth(t)
		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert"})
		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert"})
		assert.Equal(t, "Game already started.", lastErrorMessage(t, l.hostTr))
	})

	t.Run("persistence failure rolls back", func(t *testing.T) {
		l := newLobby(t)
		l.readyBoth(t)
		l.store.UpdateRoomStatusErr = assert.AnError

		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert"})

		assert.True(t, hasEvent(l.hostTr, "gameStartFailed"))
		assert.True(t, hasEvent(l.guestTr, "gameStartFailed"))
		assert.False(t, hasEvent(l.guestTr, "gameStarted"))

		// 回滾恢復全員準備，排除故障後可直接重試
		l.store.UpdateRoomStatusErr = nil
		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert"})
		assert.True(t, hasEvent(l.guestTr, "gameStarted"))
	})
}

// TestCoordinator_WaitingRoom 測試賽後重置
func TestCoordinator_WaitingRoom(t *testing.T) {
	l := newLobby(t)
	sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert", "force": true})
	require.True(t, hasEvent(l.guestTr, "gameStarted"))

	t.Run("member cannot reset", func(t *testing.T) {
		sendMsg(t, l.c, l.guestID, "waitingRoom", map[string]any{"roomID": l.roomID})
		assert.Equal(t, "Only the host can do that.", lastErrorMessage(t, l.guestTr))
	})

	t.Run("host resets to waiting", func(t *testing.T) {
		sendMsg(t, l.c, l.hostID, "waitingRoom", map[string]any{"roomID": l.roomID})

		var reset struct {
			RoomID int64               `json:"roomID"`
			Status internal.RoomStatus `json:"status"`
		}
		decodeLast(t, l.guestTr, "updateWaitingRoom", &reset)
		assert.Equal(t, l.roomID, reset.RoomID)
		assert.Equal(t, internal.StatusWaiting, reset.Status)

		for _, p := range playersOf(t, l.guestTr) {
			assert.Equal(t, internal.PlayerWaiting, p.Status)
		}

		// 重置後可以再次加入
		var list struct {
			Rooms []internal.RoomSummary `json:"rooms"`
		}
		decodeLast(t, l.guestTr, "roomListUpdated", &list)
		require.Len(t, list.Rooms, 1)
		assert.Equal(t, internal.StatusWaiting, list.Rooms[0].Status)
	})
}

// TestCoordinator_PlayerReady 測試玩家準備
func TestCoordinator_PlayerReady(t *testing.T) {
	l := newLobby(t)

	sendMsg(t, l.c, l.guestID, "playerReady", map[string]any{"roomID": l.roomID, "playerID": "p2"})

	var ready struct {
		SocketID string `json:"socketID"`
		PlayerID string `json:"playerId"`
	}
	decodeLast(t, l.hostTr, "playerIsReady", &ready)
	assert.Equal(t, l.guestID, ready.SocketID)
	assert.Equal(t, "p2", ready.PlayerID)

	for _, p := range playersOf(t, l.hostTr) {
		if p.PlayerID == "p2" {
			assert.Equal(t, internal.PlayerReady, p.Status)
		}
	}

	// 重複準備是靜默 no-op
	l.hostTr.Reset()
	sendMsg(t, l.c, l.guestID, "playerReady", map[string]any{"roomID": l.roomID, "playerID": "p2"})
	assert.Empty(t, l.hostTr.Envelopes())

	// 冒用他人 playerID 靜默忽略
	sendMsg(t, l.c, l.guestID, "playerReady", map[string]any{"roomID": l.roomID, "playerID": "p1"})
	assert.Empty(t, l.hostTr.Envelopes())
}

// TestCoordinator_PlayerChangeCar 測試更換車輛
func TestCoordinator_PlayerChangeCar(t *testing.T) {
	l := newLobby(t)

	t.Run("owned car", func(t *testing.T) {
		sendMsg(t, l.c, l.guestID, "playerChangeCar", map[string]any{"roomID": l.roomID, "playerID": "p2", "mainCar": 4})

		for _, p := range playersOf(t, l.hostTr) {
			if p.PlayerID == "p2" {
				assert.Equal(t, int64(4), p.MainCar)
			}
		}
		require.Eventually(t, func() bool {
			return l.store.UpdateMainCarCalls.Load() == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("unowned car rejected", func(t *testing.T) {
		sendMsg(t, l.c, l.guestID, "playerChangeCar", map[string]any{"roomID": l.roomID, "playerID": "p2", "mainCar": 99})
		assert.Equal(t, "Car not owned.", lastErrorMessage(t, l.guestTr))
	})

	t.Run("ignored while running", func(t *testing.T) {
		sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert", "force": true})
		l.hostTr.Reset()

		sendMsg(t, l.c, l.guestID, "playerChangeCar", map[string]any{"roomID": l.roomID, "playerID": "p2", "mainCar": 3})
		assert.Empty(t, l.hostTr.Envelopes())
	})
}

// TestCoordinator_LoadBarrier 測試載入屏障
func TestCoordinator_LoadBarrier(t *testing.T) {
	l := newLobby(t)
	sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert", "force": true})

	// 第一位載入完成，屏障未滿足
	sendMsg(t, l.c, l.hostID, "loadingGame", map[string]any{"roomID": l.roomID, "playerID": "p1"})
	assert.False(t, hasEvent(l.guestTr, "allPlayersLoaded"))

	// 最後一位載入完成，全房收到一次屏障訊號
	sendMsg(t, l.c, l.guestID, "loadingGame", map[string]any{"roomID": l.roomID, "playerID": "p2"})

	var loaded struct {
		RoomID int64 `json:"roomID"`
	}
	decodeLast(t, l.guestTr, "allPlayersLoaded", &loaded)
	assert.Equal(t, l.roomID, loaded.RoomID)
	assert.True(t, hasEvent(l.hostTr, "allPlayersLoaded"))

	// 重複回報不再觸發
	l.guestTr.Reset()
	sendMsg(t, l.c, l.hostID, "loadingGame", map[string]any{"roomID": l.roomID, "playerID": "p1"})
	assert.Empty(t, l.guestTr.Envelopes())
}

// TestCoordinator_LoadingGame_IgnoredWhileWaiting 等待室中的載入回報被忽略
func TestCoordinator_LoadingGame_IgnoredWhileWaiting(t *testing.T) {
	l := newLobby(t)
	l.hostTr.Reset()

	sendMsg(t, l.c, l.guestID, "loadingGame", map[string]any{"roomID": l.roomID, "playerID": "p2"})
	assert.Empty(t, l.hostTr.Envelopes())
}

// TestCoordinator_SyncPosition 測試位置同步
func TestCoordinator_SyncPosition(t *testing.T) {
	l := newLobby(t)
	sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert", "force": true})
	l.hostTr.Reset()
	l.guestTr.Reset()

	sendMsg(t, l.c, l.guestID, "syncPosition", map[string]any{
		"roomID":   l.roomID,
		"position": map[string]any{"x": 1.5, "y": 0, "z": -3},
		"rotation": map[string]any{"x": 0, "y": 90, "z": 0},
		"speed":    120.5,
		"distance": 42,
	})

	// 房間內其他人收到轉發，發送者自己不收
	var update struct {
		SocketID string           `json:"socketID"`
		Position internal.Vector3 `json:"position"`
		Speed    float64          `json:"speed"`
		Distance float64          `json:"distance"`
	}
	decodeLast(t, l.hostTr, "playerPositionUpdate", &update)
	assert.Equal(t, l.guestID, update.SocketID)
	assert.Equal(t, 1.5, update.Position.X)
	assert.Equal(t, 120.5, update.Speed)
	assert.Equal(t, float64(42), update.Distance)
	assert.False(t, hasEvent(l.guestTr, "playerPositionUpdate"))
}

// TestCoordinator_SyncPosition_IgnoredWhileWaiting 等待室中的位置同步被丟棄
func TestCoordinator_SyncPosition_IgnoredWhileWaiting(t *testing.T) {
	l := newLobby(t)
	l.hostTr.Reset()

	sendMsg(t, l.c, l.guestID, "syncPosition", map[string]any{
		"roomID":   l.roomID,
		"position": map[string]any{"x": 1, "y": 2, "z": 3},
	})
	assert.Empty(t, l.hostTr.Envelopes())
}

// TestCoordinator_SyncCarPosition 測試車體視覺同步
func TestCoordinator_SyncCarPosition(t *testing.T) {
	l := newLobby(t)
	sendMsg(t, l.c, l.hostID, "startGame", map[string]any{"roomID": l.roomID, "map": "desert", "force": true})
	l.hostTr.Reset()

	sendMsg(t, l.c, l.guestID, "syncCarPosition", map[string]any{
		"roomID":   l.roomID,
		"position": map[string]any{"x": 7, "y": 0, "z": 0},
		"speed":    60,
	})

	var update struct {
		SocketID string  `json:"socketID"`
		Speed    float64 `json:"speed"`
	}
	decodeLast(t, l.hostTr, "carPositionUpdate", &update)
	assert.Equal(t, l.guestID, update.SocketID)
	assert.Equal(t, float64(60), update.Speed)
	assert.False(t, hasEvent(l.guestTr, "carPositionUpdate"))
}

// TestCoordinator_Disconnect 測試斷線清理
func TestCoordinator_Disconnect(t *testing.T) {
	t.Run("member disconnects", func(t *testing.T) {
		l := newLobby(t)

		l.c.HandleDisconnect(l.guestID)

		var left struct {
			PlayerID string `json:"playerId"`
		}
		decodeLast(t, l.hostTr, "playerLeft", &left)
		assert.Equal(t, "p2", left.PlayerID)
		assert.Len(t, playersOf(t, l.hostTr), 1)
	})

	t.Run("host disconnects, room dies", func(t *testing.T) {
		l := newLobby(t)

		l.c.HandleDisconnect(l.hostID)

		var closed struct {
			Reason string `json:"reason"`
		}
		decodeLast(t, l.guestTr, "roomClosed", &closed)
		assert.Equal(t, "host_disconnected", closed.Reason)

		stats := l.c.Stats()
		assert.Equal(t, 0, stats["total_rooms"])
	})

	t.Run("idempotent", func(t *testing.T) {
		l := newLobby(t)

		l.c.HandleDisconnect(l.guestID)
		l.hostTr.Reset()

		// 重複的斷線訊號不再產生任何效果
		l.c.HandleDisconnect(l.guestID)
		assert.Empty(t, l.hostTr.Envelopes())

		l.c.HandleDisconnect("sock_never_existed")
		assert.Empty(t, l.hostTr.Envelopes())
	})

	t.Run("not in a room", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		ft := testutils.NewFakeTransport()
		socketID := c.HandleConnect(ft)

		c.HandleDisconnect(socketID)
		stats := c.Stats()
		assert.Equal(t, 0, stats["connections"])
	})
}

// TestCoordinator_ProtocolErrors 測試協議層錯誤回覆
func TestCoordinator_ProtocolErrors(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ft := testutils.NewFakeTransport()
	socketID := c.HandleConnect(ft)

	c.HandleMessage(socketID, []byte(`{broken`))
	assert.Equal(t, "Malformed message.", lastErrorMessage(t, ft))

	sendMsg(t, c, socketID, "selfDestruct", nil)
	assert.Equal(t, "Unknown event.", lastErrorMessage(t, ft))
}

// TestCoordinator_ProductionHidesDetails 生產環境不外洩錯誤細節
func TestCoordinator_ProductionHidesDetails(t *testing.T) {
	c, _ := newTestCoordinator(t, internal.WithEnv("production"))
	ft := testutils.NewFakeTransport()
	socketID := c.HandleConnect(ft)

	sendMsg(t, c, socketID, "selfDestruct", nil)

	var payload struct {
		Message string `json:"message"`
		Details string `json:"details"`
	}
	decodeLast(t, ft, "error", &payload)
	assert.Equal(t, "Unknown event.", payload.Message)
	assert.Empty(t, payload.Details)
}

// TestCoordinator_PingCheck 測試應用層心跳
func TestCoordinator_PingCheck(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ft := testutils.NewFakeTransport()
	socketID := c.HandleConnect(ft)

	sendMsg(t, c, socketID, "ping_check", nil)
	assert.True(t, hasEvent(ft, "ping_response"))
}

// TestCoordinator_UnwritableTransport 不可寫的連線被略過而非移除
func TestCoordinator_UnwritableTransport(t *testing.T) {
	l := newLobby(t)
	l.hostTr.SetWritable(false)

	// 廣播照常進行，房主只是收不到
	sendMsg(t, l.c, l.guestID, "playerReady", map[string]any{"roomID": l.roomID, "playerID": "p2"})
	assert.True(t, hasEvent(l.guestTr, "updatePlayers"))

	// 恢復可寫後繼續收到後續訊息
	l.hostTr.SetWritable(true)
	l.hostTr.Reset()
	sendMsg(t, l.c, l.guestID, "leaveRoom", nil)
	assert.True(t, hasEvent(l.hostTr, "playerLeft"))
}

// TestCoordinator_Seed 測試啟動播種
func TestCoordinator_Seed(t *testing.T) {
	c, store := newTestCoordinator(t)
	store.AddRoom(internal.RoomRecord{ID: 9, Value: 300, Status: internal.StatusRunning})

	require.NoError(t, c.Seed(context.Background()))

	ft := testutils.NewFakeTransport()
	c.HandleConnect(ft)

	var list struct {
		Rooms []internal.RoomSummary `json:"rooms"`
	}
	decodeLast(t, ft, "roomListUpdated", &list)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, int64(9), list.Rooms[0].ID)
	assert.Equal(t, internal.StatusWaiting, list.Rooms[0].Status)
	assert.Equal(t, 0, list.Rooms[0].PlayerCount)
}

// TestCoordinator_Seed_Error 播種失敗時回傳錯誤
func TestCoordinator_Seed_Error(t *testing.T) {
	c, store := newTestCoordinator(t)
	store.GetAllRoomsErr = assert.AnError

	assert.Error(t, c.Seed(context.Background()))
}

// TestCoordinator_Stats 測試統計資訊
func TestCoordinator_Stats(t *testing.T) {
	l := newLobby(t)

	stats := l.c.Stats()
	assert.Equal(t, 2, stats["connections"])
	assert.Equal(t, 1, stats["total_rooms"])
	assert.Equal(t, 2, stats["total_players"])
}

// TestCoordinator_Shutdown 測試優雅關閉
func TestCoordinator_Shutdown(t *testing.T) {
	l := newLobby(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.c.Shutdown(ctx)

	var closed struct {
		Reason string `json:"reason"`
	}
	decodeLast(t, l.hostTr, "roomClosed", &closed)
	assert.Equal(t, "server_shutdown", closed.Reason)
	assert.True(t, l.hostTr.Closed())
	assert.True(t, l.guestTr.Closed())
}
