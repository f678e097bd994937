package internal

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Transport 一條連線的出站通道
//
// Send 必須是非阻塞的盡力而為：連線當下不可寫（緩衝滿、已關閉）
// 就回傳 false，由呼叫端決定是否略過。移除連線只透過生命週期
// 管理（斷線處理），發送失敗不會觸發移除。
type Transport interface {
	Send(message []byte) bool
	Close() error
}

// connEntry 連線登錄項
type connEntry struct {
	transport Transport
	playerID  string // 綁定的玩家 ID，未綁定為空
}

// Registry 連線註冊表
//
// 以伺服器簽發的連線識別碼（socketID）追蹤活躍的傳輸握把，
// 是其他所有組件讀取的基礎。無鎖：與房間目錄一樣由 Coordinator
// 的鎖持有（見 coordinator.go）。
type Registry struct {
	conns map[string]*connEntry
}

// NewRegistry 建立連線註冊表
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*connEntry),
	}
}

// Register 登錄傳輸握把並簽發連線識別碼
func (reg *Registry) Register(t Transport) string {
	id := generateSocketID()
	reg.conns[id] = &connEntry{transport: t}
	return id
}

// Lookup 取得連線的傳輸握把
func (reg *Registry) Lookup(socketID string) (Transport, bool) {
	entry, ok := reg.conns[socketID]
	if !ok {
		return nil, false
	}
	return entry.transport, true
}

// Bind 將連線綁定到玩家。後寫者勝。
func (reg *Registry) Bind(socketID, playerID string) {
	if entry, ok := reg.conns[socketID]; ok {
		entry.playerID = playerID
	}
}

// Unbind 解除連線與玩家的綁定
func (reg *Registry) Unbind(socketID string) {
	if entry, ok := reg.conns[socketID]; ok {
		entry.playerID = ""
	}
}

// PlayerIDOf 取得連線綁定的玩家 ID
func (reg *Registry) PlayerIDOf(socketID string) (string, bool) {
	entry, ok := reg.conns[socketID]
	if !ok || entry.playerID == "" {
		return "", false
	}
	return entry.playerID, true
}

// Remove 移除連線。冪等：不存在即無事發生。
func (reg *Registry) Remove(socketID string) bool {
	if _, ok := reg.conns[socketID]; !ok {
		return false
	}
	delete(reg.conns, socketID)
	return true
}

// Transports 所有登錄中的傳輸握把（全域廣播用）
func (reg *Registry) Transports() []Transport {
	transports := make([]Transport, 0, len(reg.conns))
	for _, entry := range reg.conns {
		transports = append(transports, entry.transport)
	}
	return transports
}

// Count 連線數量
func (reg *Registry) Count() int {
	return len(reg.conns)
}

// generateSocketID 簽發連線識別碼
func generateSocketID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// 隨機讀取失敗時以時間戳作為備用
		return fmt.Sprintf("sock_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("sock_%s", hex.EncodeToString(b))
}
