package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// roomSeqKey Redis 房間序號鍵
const roomSeqKey = "racing:room:seq"

// PostgresStore 持久化適配器的 PostgreSQL 實現
//
// 系統設計考量：
//
//  1. 序號簽發（Redis INCR）：
//     房間編號是伺服器簽發的遞增序號。Redis INCR 原子遞增，
//     單一指令即可簽發，不需資料庫往返。
//
//  2. 降級模式：
//     Redis 不可用時退回本地原子計數器。計數器在啟動時以
//     資料庫內的最大編號播種，降級期間仍能簽發不重複的編號
//     （單協調器行程的前提下成立）。
//
//  3. 記憶體為準：
//     寫入失敗由呼叫端記日誌後放行，這裡只負責把錯誤包好。
type PostgresStore struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	logger  *slog.Logger
	localID atomic.Int64 // Redis 降級時的本地序號
}

// NewPostgresStore 建立 PostgreSQL 持久層
//
// 以資料庫中的最大房間編號播種本地序號，讓 Redis 降級時
// 簽發的編號不與既有房間衝突。
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:   pool,
		redis:  rdb,
		logger: logger,
	}

	var maxID int64
	err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM rooms`).Scan(&maxID)
	if err != nil {
		return nil, fmt.Errorf("seed room sequence: %w", err)
	}
	s.localID.Store(maxID)

	// Redis 序號至少要追上資料庫
	if err := rdb.SetNX(ctx, roomSeqKey, maxID, 0).Err(); err != nil {
		logger.Warn("redis sequence init failed, falling back to local ids", "error", err)
	}

	return s, nil
}

// nextRoomID 簽發下一個房間編號
func (s *PostgresStore) nextRoomID(ctx context.Context) int64 {
	id, err := s.redis.Incr(ctx, roomSeqKey).Result()
	if err != nil {
		s.logger.Warn("redis incr failed, using local sequence", "error", err)
		return s.localID.Add(1)
	}
	// 讓本地序號跟上，降級切換時不會倒退
	for {
		cur := s.localID.Load()
		if cur >= id || s.localID.CompareAndSwap(cur, id) {
			break
		}
	}
	return id
}

// CreateRoom 建立房間記錄
func (s *PostgresStore) CreateRoom(ctx context.Context, props RoomProps) (RoomRecord, error) {
	rec := RoomRecord{
		ID:       s.nextRoomID(ctx),
		Value:    props.Value,
		Password: props.Password,
		Status:   StatusWaiting,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (id, value, password, status) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Value, rec.Password, string(rec.Status))
	if err != nil {
		return RoomRecord{}, fmt.Errorf("insert room: %w", err)
	}

	return rec, nil
}

// GetAllRooms 房間結構快照（僅啟動播種使用）
func (s *PostgresStore) GetAllRooms(ctx context.Context) ([]RoomRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, value, password, status FROM rooms`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var records []RoomRecord
	for rows.Next() {
		var rec RoomRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.Value, &rec.Password, &status); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rec.Status = RoomStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}

	return records, nil
}

// AddPlayerToRoom 記錄房間成員
func (s *PostgresStore) AddPlayerToRoom(ctx context.Context, roomID int64, playerID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_players (room_id, player_id) VALUES ($1, $2)
		 ON CONFLICT (room_id, player_id) DO NOTHING`,
		roomID, playerID)
	if err != nil {
		return fmt.Errorf("add player to room: %w", err)
	}
	return nil
}

// LeaveRoom 移除房間成員
func (s *PostgresStore) LeaveRoom(ctx context.Context, roomID int64, playerID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM room_players WHERE room_id = $1 AND player_id = $2`,
		roomID, playerID)
	if err != nil {
		return fmt.Errorf("remove player from room: %w", err)
	}
	return nil
}

// DeleteRoom 刪除房間（成員記錄隨外鍵級聯刪除）
func (s *PostgresStore) DeleteRoom(ctx context.Context, roomID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// UpdateRoomStatus 更新房間狀態
func (s *PostgresStore) UpdateRoomStatus(ctx context.Context, roomID int64, status RoomStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET status = $2, updated_at = now() WHERE id = $1`,
		roomID, string(status))
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update room status: room %d: %w", roomID, ErrNotFound)
	}
	return nil
}

// GetPlayerByID 取得玩家檔案
func (s *PostgresStore) GetPlayerByID(ctx context.Context, playerID string) (PlayerRecord, error) {
	var rec PlayerRecord
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, main_car, cars FROM players WHERE id = $1`,
		playerID).Scan(&rec.ID, &rec.Name, &status, &rec.MainCar, &rec.OwnedCars)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlayerRecord{}, fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("get player: %w", err)
	}
	rec.Status = PlayerStatus(status)
	return rec, nil
}

// UpdatePlayerSocket 記錄玩家當前的連線與角色
func (s *PostgresStore) UpdatePlayerSocket(ctx context.Context, playerID, socketID string, isHost bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE players SET socket_id = $2, is_host = $3, updated_at = now() WHERE id = $1`,
		playerID, socketID, isHost)
	if err != nil {
		return fmt.Errorf("update player socket: %w", err)
	}
	return nil
}

// UpdatePlayerStatus 更新玩家準備狀態
func (s *PostgresStore) UpdatePlayerStatus(ctx context.Context, playerID string, status PlayerStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE players SET status = $2, updated_at = now() WHERE id = $1`,
		playerID, string(status))
	if err != nil {
		return fmt.Errorf("update player status: %w", err)
	}
	return nil
}

// UpdateMainCar 更新玩家選用車輛
func (s *PostgresStore) UpdateMainCar(ctx context.Context, playerID string, carID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE players SET main_car = $2, updated_at = now() WHERE id = $1`,
		playerID, carID)
	if err != nil {
		return fmt.Errorf("update main car: %w", err)
	}
	return nil
}
