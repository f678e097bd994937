package internal

import (
	"encoding/json"

	apperrors "github.com/koopa0/racing-lobby/pkg/errors"
)

// 系統設計問題：
//   字串標籤＋未定型負載的動態分發，如何做到「未知標籤是明確的
//   錯誤情況」而不是靜默落空？
//
// 設計方案：
//   路由器只認得被明確註冊過的事件標籤。信封解析失敗回協議錯誤、
//   未註冊標籤回未知事件錯誤，兩者都保證不觸碰任何狀態。

// handlerFunc 事件處理器
//
// 在協調器鎖內執行記憶體變更；回傳的延續（可為 nil）在鎖外執行，
// 供需要等待持久化結果的路徑（開賽）使用。
type handlerFunc func(socketID string, data json.RawMessage) func()

// Router 訊息路由器
//
// 只依賴線上格式，對房間狀態一無所知。
type Router struct {
	handlers map[string]handlerFunc
}

// NewRouter 建立路由器
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]handlerFunc),
	}
}

// Handle 註冊事件處理器。同名事件後註冊者覆蓋前者。
func (r *Router) Handle(event string, h handlerFunc) {
	r.handlers[event] = h
}

// Route 解析信封並找出對應的處理器
//
// 解析失敗或未知事件回傳 AppError，且保證無任何狀態變更。
func (r *Router) Route(raw []byte) (handlerFunc, json.RawMessage, *apperrors.AppError) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrCodeProtocol, "Malformed message.")
	}
	if env.Event == "" {
		return nil, nil, apperrors.ErrMalformedMessage
	}

	h, ok := r.handlers[env.Event]
	if !ok {
		return nil, nil, apperrors.ErrUnknownEvent.WithDetails(env.Event)
	}

	return h, env.Data, nil
}

// decodePayload 解析事件負載
//
// 空負載視同空物件（leaveRoom、ping_check 沒有欄位）。
func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
