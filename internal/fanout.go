package internal

import (
	apperrors "github.com/koopa0/racing-lobby/pkg/errors"
)

// 廣播／扇出：把一則出站訊息投遞給計算出的受眾——單一連線、
// 一個房間的連線（可排除一條）、或全部登錄中的連線。
//
// 投遞是盡力而為、至多一次、射後不理：當下不可寫的連線直接略過，
// 不回報錯誤、也不從註冊表移除（移除只經由生命週期管理）。
// 不排隊、無背壓、無送達確認。
//
// 所有方法都假設呼叫端已持有協調器的鎖（讀寫皆可）。

// send 投遞給單一傳輸握把
func (c *Coordinator) send(t Transport, event string, data any) {
	if t == nil {
		return
	}
	message, err := encodeMessage(event, data)
	if err != nil {
		c.logger.Error("encode outbound message failed", "event", event, "error", err)
		return
	}
	if !t.Send(message) {
		c.logger.Debug("connection not writable, message dropped", "event", event)
	}
}

// sendTo 投遞給指定連線
func (c *Coordinator) sendTo(socketID, event string, data any) {
	t, ok := c.registry.Lookup(socketID)
	if !ok {
		return
	}
	c.send(t, event, data)
}

// replyError 回覆錯誤給指定連線
//
// details 只在非 production 環境下附帶，避免把內部狀態外洩給玩家。
func (c *Coordinator) replyError(socketID string, appErr *apperrors.AppError) {
	payload := errorPayload{Message: appErr.Message}
	if c.env != envProduction {
		payload.Details = appErr.Details
		if payload.Details == "" && appErr.Err != nil {
			payload.Details = appErr.Err.Error()
		}
	}
	c.sendTo(socketID, EventError, payload)
}

// broadcastRoom 投遞給房間內所有會話的連線，except 非空時排除該連線
func (c *Coordinator) broadcastRoom(room *Room, event string, data any, except string) {
	message, err := encodeMessage(event, data)
	if err != nil {
		c.logger.Error("encode outbound message failed", "event", event, "error", err)
		return
	}
	for socketID := range room.Sessions {
		if socketID == except {
			continue
		}
		if t, ok := c.registry.Lookup(socketID); ok {
			t.Send(message)
		}
	}
}

// broadcastAll 投遞給所有登錄中的連線
func (c *Coordinator) broadcastAll(event string, data any) {
	message, err := encodeMessage(event, data)
	if err != nil {
		c.logger.Error("encode outbound message failed", "event", event, "error", err)
		return
	}
	for _, t := range c.registry.Transports() {
		t.Send(message)
	}
}

// broadcastRoomList 重播公開房間列表給所有連線
func (c *Coordinator) broadcastRoomList() {
	c.broadcastAll(EventRoomListUpdated, roomListPayload{Rooms: c.directory.Summaries()})
}
