package internal

import (
	"context"
	"errors"
)

// ErrNotFound 持久層查無資料
var ErrNotFound = errors.New("not found")

// RoomProps 建立房間的屬性
type RoomProps struct {
	Value    int64
	Password string
}

// RoomRecord 房間的持久化記錄（結構快照，不含成員）
type RoomRecord struct {
	ID       int64
	Value    int64
	Password string
	Status   RoomStatus
}

// PlayerRecord 玩家檔案
type PlayerRecord struct {
	ID        string
	Name      string
	Status    PlayerStatus
	MainCar   int64
	OwnedCars []int64
}

// Store 持久化適配器
//
// 協調器消費、但絕不編排的外部協作者。除了啟動播種
// （GetAllRooms）與建立房間（需要簽發的編號）之外，所有呼叫
// 都是射後不理：失敗記日誌、不重試、不回滾記憶體狀態——
// 即時對局以記憶體為唯一權威，與持久層之間接受最終一致。
// 唯一例外是開賽路徑：UpdateRoomStatus 失敗會回滾並重新廣播。
type Store interface {
	CreateRoom(ctx context.Context, props RoomProps) (RoomRecord, error)
	GetAllRooms(ctx context.Context) ([]RoomRecord, error)
	AddPlayerToRoom(ctx context.Context, roomID int64, playerID string) error
	LeaveRoom(ctx context.Context, roomID int64, playerID string) error
	DeleteRoom(ctx context.Context, roomID int64) error
	UpdateRoomStatus(ctx context.Context, roomID int64, status RoomStatus) error
	GetPlayerByID(ctx context.Context, playerID string) (PlayerRecord, error)
	UpdatePlayerSocket(ctx context.Context, playerID, socketID string, isHost bool) error
	UpdatePlayerStatus(ctx context.Context, playerID string, status PlayerStatus) error
	UpdateMainCar(ctx context.Context, playerID string, carID int64) error
}
