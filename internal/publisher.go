package internal

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// 大廳事件主題
const (
	SubjectRoomCreated  = "lobby.room.created"
	SubjectRoomClosed   = "lobby.room.closed"
	SubjectRaceStarted  = "lobby.race.started"
	SubjectRaceFinished = "lobby.race.finished"
)

// Publisher 大廳事件發布器
//
// 把房間生命週期事件推給下游消費者（戰績服務、營運報表）。
// 用 Core NATS 而非 JetStream：大廳事件是盡力而為的遙測，
// 掉一則不影響對局正確性，換取發布端零等待。
//
// nil Publisher 是合法的空實現——未配置 NATS 時所有發布都靜默略過。
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewPublisher 連接 NATS 並建立發布器
func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(
		url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		conn:   conn,
		logger: logger,
	}, nil
}

// publish 射後不理的發布，失敗只記日誌
func (p *Publisher) publish(subject string, payload any) {
	if p == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("marshal lobby event failed", "subject", subject, "error", err)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publish lobby event failed", "subject", subject, "error", err)
	}
}

// RoomCreated 房間建立
func (p *Publisher) RoomCreated(room RoomSummary) {
	p.publish(SubjectRoomCreated, room)
}

// RoomClosed 房間關閉
func (p *Publisher) RoomClosed(roomID int64, reason string) {
	p.publish(SubjectRoomClosed, map[string]any{
		"roomID": roomID,
		"reason": reason,
	})
}

// RaceStarted 比賽開始
func (p *Publisher) RaceStarted(roomID int64, track string, playerIDs []string) {
	p.publish(SubjectRaceStarted, map[string]any{
		"roomID":  roomID,
		"map":     track,
		"players": playerIDs,
	})
}

// RaceFinished 比賽結束（房主重置回等待室）
func (p *Publisher) RaceFinished(roomID int64) {
	p.publish(SubjectRaceFinished, map[string]any{
		"roomID": roomID,
	})
}

// Close 關閉 NATS 連接
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}
