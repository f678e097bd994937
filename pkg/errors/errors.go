// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeProtocol 協議錯誤（訊息無法解析）
	ErrCodeProtocol = "PROTOCOL_ERROR"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUnauthorized 未授權操作（非房主執行房主限定動作）
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeConflict 狀態衝突（已在房間、房滿、密碼錯誤等）
	ErrCodeConflict = "CONFLICT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊（回傳副本，預定義錯誤保持不變）
func (e *AppError) WithDetails(details string) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// 預定義錯誤
//
// Message 是直接回傳給客戶端的內容，維持面向玩家的措辭。
var (
	// ErrMalformedMessage 訊息無法解析為 {event, data} 信封
	ErrMalformedMessage = New(ErrCodeProtocol, "Malformed message.")

	// ErrUnknownEvent 未註冊的事件標籤
	ErrUnknownEvent = New(ErrCodeProtocol, "Unknown event.")

	// ErrMissingField 缺少必填欄位
	ErrMissingField = New(ErrCodeInvalidInput, "Missing required field.")

	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeNotFound, "Room not found.")

	// ErrPlayerNotFound 玩家不存在
	ErrPlayerNotFound = New(ErrCodeNotFound, "Player not found.")

	// ErrIncorrectPassword 房間密碼錯誤
	ErrIncorrectPassword = New(ErrCodeConflict, "Incorrect password.")

	// ErrRoomFull 房間人數已達上限
	ErrRoomFull = New(ErrCodeConflict, "Room is full.")

	// ErrAlreadyInRoom 玩家已在其他房間
	ErrAlreadyInRoom = New(ErrCodeConflict, "Already in a room.")

	// ErrGameInProgress 房間已開賽，無法加入
	ErrGameInProgress = New(ErrCodeConflict, "Game already started.")

	// ErrNotHost 非房主執行房主限定動作
	ErrNotHost = New(ErrCodeUnauthorized, "Only the host can do that.")

	// ErrNotAllReady 尚有玩家未準備
	ErrNotAllReady = New(ErrCodeConflict, "Not all players are ready.")

	// ErrCarNotOwned 玩家未擁有所選車輛
	ErrCarNotOwned = New(ErrCodeConflict, "Car not owned.")

	// ErrCannotKickSelf 房主不能踢出自己
	ErrCannotKickSelf = New(ErrCodeConflict, "You cannot kick yourself.")

	// ErrStartFailed 開賽時持久化失敗
	ErrStartFailed = New(ErrCodeInternal, "Could not start the game.")

	// ErrCreateRoomFailed 建立房間時持久化失敗
	ErrCreateRoomFailed = New(ErrCodeInternal, "Could not create the room.")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsConflict 檢查是否為狀態衝突錯誤
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeConflict
	}
	return false
}

// IsUnauthorized 檢查是否為未授權錯誤
func IsUnauthorized(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeUnauthorized
	}
	return false
}

// IsProtocol 檢查是否為協議錯誤
func IsProtocol(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeProtocol
	}
	return false
}
