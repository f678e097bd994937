// Package testutils 提供測試用的共用工具和輔助函數
//
// 本套件實作了：
//   - FakeTransport：記錄出站訊息的傳輸握把替身
//   - FakeStore：記憶體持久層替身，支援呼叫計數與錯誤注入
//   - 測試容器（testcontainers）管理，見 containers.go
package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/koopa0/racing-lobby/internal"
)

// FakeTransport 實作 internal.Transport 的替身
//
// 記錄每一則送出的訊息供測試斷言。Writable 設為 false 可模擬
// 緩衝已滿、不可寫的連線。
type FakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
	writable bool
	closed   bool
}

// NewFakeTransport 創建新的 FakeTransport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{writable: true}
}

// Send 實作 Transport 的 Send 方法
func (f *FakeTransport) Send(message []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.writable || f.closed {
		return false
	}
	buf := make([]byte, len(message))
	copy(buf, message)
	f.messages = append(f.messages, buf)
	return true
}

// Close 實作 Transport 的 Close 方法
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// SetWritable 切換連線可寫狀態
func (f *FakeTransport) SetWritable(writable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writable = writable
}

// Closed 連線是否已被關閉
func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Messages 所有已送出訊息的快照
func (f *FakeTransport) Messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([][]byte, len(f.messages))
	copy(out, f.messages)
	return out
}

// Envelopes 解析所有已送出訊息為 {event, data} 信封
func (f *FakeTransport) Envelopes() []internal.Envelope {
	messages := f.Messages()
	envelopes := make([]internal.Envelope, 0, len(messages))
	for _, message := range messages {
		var env internal.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes
}

// Reset 清空已記錄的訊息
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}

// FakeStore 實作 internal.Store 介面的記憶體替身
//
// 房間編號由遞增計數器簽發。玩家檔案由測試透過 AddPlayer 預先
// 播種。每個方法都有原子呼叫計數與可注入的錯誤。
type FakeStore struct {
	mu      sync.Mutex
	players map[string]internal.PlayerRecord
	rooms   map[int64]internal.RoomRecord
	nextID  int64

	// 記錄呼叫次數
	CreateRoomCalls         atomic.Int32
	GetAllRoomsCalls        atomic.Int32
	AddPlayerToRoomCalls    atomic.Int32
	LeaveRoomCalls          atomic.Int32
	DeleteRoomCalls         atomic.Int32
	UpdateRoomStatusCalls   atomic.Int32
	GetPlayerByIDCalls      atomic.Int32
	UpdatePlayerSocketCalls atomic.Int32
	UpdatePlayerStatusCalls atomic.Int32
	UpdateMainCarCalls      atomic.Int32

	// 錯誤注入
	CreateRoomErr       error
	GetAllRoomsErr      error
	UpdateRoomStatusErr error
	GetPlayerByIDErr    error
}

// NewFakeStore 創建新的 FakeStore
func NewFakeStore() *FakeStore {
	return &FakeStore{
		players: make(map[string]internal.PlayerRecord),
		rooms:   make(map[int64]internal.RoomRecord),
	}
}

// AddPlayer 播種一筆玩家檔案
func (f *FakeStore) AddPlayer(p internal.PlayerRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.players[p.ID] = p
}

// AddRoom 播種一筆房間記錄（啟動播種測試用）
func (f *FakeStore) AddRoom(rec internal.RoomRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[rec.ID] = rec
	if rec.ID > f.nextID {
		f.nextID = rec.ID
	}
}

// RoomCount 當前持久化的房間數量
func (f *FakeStore) RoomCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms)
}

// CreateRoom 實作 Store 的 CreateRoom 方法
func (f *FakeStore) CreateRoom(_ context.Context, props internal.RoomProps) (internal.RoomRecord, error) {
	f.CreateRoomCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateRoomErr != nil {
		return internal.RoomRecord{}, f.CreateRoomErr
	}

	f.nextID++
	rec := internal.RoomRecord{
		ID:       f.nextID,
		Value:    props.Value,
		Password: props.Password,
		Status:   internal.StatusWaiting,
	}
	f.rooms[rec.ID] = rec
	return rec, nil
}

// GetAllRooms 實作 Store 的 GetAllRooms 方法
func (f *FakeStore) GetAllRooms(_ context.Context) ([]internal.RoomRecord, error) {
	f.GetAllRoomsCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetAllRoomsErr != nil {
		return nil, f.GetAllRoomsErr
	}

	records := make([]internal.RoomRecord, 0, len(f.rooms))
	for _, rec := range f.rooms {
		records = append(records, rec)
	}
	return records, nil
}

// AddPlayerToRoom 實作 Store 的 AddPlayerToRoom 方法
func (f *FakeStore) AddPlayerToRoom(_ context.Context, roomID int64, playerID string) error {
	f.AddPlayerToRoomCalls.Add(1)
	return nil
}

// LeaveRoom 實作 Store 的 LeaveRoom 方法
func (f *FakeStore) LeaveRoom(_ context.Context, roomID int64, playerID string) error {
	f.LeaveRoomCalls.Add(1)
	return nil
}

// DeleteRoom 實作 Store 的 DeleteRoom 方法
func (f *FakeStore) DeleteRoom(_ context.Context, roomID int64) error {
	f.DeleteRoomCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomID)
	return nil
}

// UpdateRoomStatus 實作 Store 的 UpdateRoomStatus 方法
func (f *FakeStore) UpdateRoomStatus(_ context.Context, roomID int64, status internal.RoomStatus) error {
	f.UpdateRoomStatusCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UpdateRoomStatusErr != nil {
		return f.UpdateRoomStatusErr
	}

	rec, ok := f.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %d: %w", roomID, internal.ErrNotFound)
	}
	rec.Status = status
	f.rooms[roomID] = rec
	return nil
}

// GetPlayerByID 實作 Store 的 GetPlayerByID 方法
func (f *FakeStore) GetPlayerByID(_ context.Context, playerID string) (internal.PlayerRecord, error) {
	f.GetPlayerByIDCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetPlayerByIDErr != nil {
		return internal.PlayerRecord{}, f.GetPlayerByIDErr
	}

	p, ok := f.players[playerID]
	if !ok {
		return internal.PlayerRecord{}, fmt.Errorf("player %s: %w", playerID, internal.ErrNotFound)
	}
	return p, nil
}

// UpdatePlayerSocket 實作 Store 的 UpdatePlayerSocket 方法
func (f *FakeStore) UpdatePlayerSocket(_ context.Context, playerID, socketID string, isHost bool) error {
	f.UpdatePlayerSocketCalls.Add(1)
	return nil
}

// UpdatePlayerStatus 實作 Store 的 UpdatePlayerStatus 方法
func (f *FakeStore) UpdatePlayerStatus(_ context.Context, playerID string, status internal.PlayerStatus) error {
	f.UpdatePlayerStatusCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.players[playerID]
	if ok {
		p.Status = status
		f.players[playerID] = p
	}
	return nil
}

// UpdateMainCar 實作 Store 的 UpdateMainCar 方法
func (f *FakeStore) UpdateMainCar(_ context.Context, playerID string, carID int64) error {
	f.UpdateMainCarCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.players[playerID]
	if ok {
		p.MainCar = carID
		f.players[playerID] = p
	}
	return nil
}
