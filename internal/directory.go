package internal

// Directory 房間目錄
//
// 行程生命週期內「哪些房間存在、可否加入」的唯一權威。
// 啟動時從持久層播種結構（狀態、編號、賭注、密碼），但絕不播種
// 成員——會話只對當前在線的連線有意義。
//
// 無鎖：由 Coordinator 的鎖持有（見 coordinator.go）。
type Directory struct {
	rooms map[int64]*Room
}

// NewDirectory 建立房間目錄
func NewDirectory() *Directory {
	return &Directory{
		rooms: make(map[int64]*Room),
	}
}

// Seed 從持久層快照播種房間結構
//
// 重啟後的協調器沒有任何活躍會話，Running 狀態無從恢復，
// 一律降回 Waiting。
func (d *Directory) Seed(records []RoomRecord) {
	for _, rec := range records {
		status := rec.Status
		if status == StatusRunning {
			status = StatusWaiting
		}
		d.rooms[rec.ID] = &Room{
			ID:       rec.ID,
			Value:    rec.Value,
			Password: rec.Password,
			Status:   status,
			Sessions: make(map[string]*PlayerSession),
		}
	}
}

// Add 登錄房間
func (d *Directory) Add(room *Room) {
	d.rooms[room.ID] = room
}

// Get 取得房間
func (d *Directory) Get(roomID int64) (*Room, bool) {
	room, ok := d.rooms[roomID]
	return room, ok
}

// Delete 移除房間。冪等。
func (d *Directory) Delete(roomID int64) {
	delete(d.rooms, roomID)
}

// RoomBySocket 找出包含指定連線的房間
//
// 跨實體不變量：一條連線至多出現在一個房間的會話表。
func (d *Directory) RoomBySocket(socketID string) (*Room, bool) {
	for _, room := range d.rooms {
		if _, ok := room.Sessions[socketID]; ok {
			return room, true
		}
	}
	return nil, false
}

// RoomByPlayer 找出包含指定玩家的房間
func (d *Directory) RoomByPlayer(playerID string) (*Room, bool) {
	for _, room := range d.rooms {
		for _, s := range room.Sessions {
			if s.PlayerID == playerID {
				return room, true
			}
		}
	}
	return nil, false
}

// Summaries 公開房間列表快照
func (d *Directory) Summaries() []RoomSummary {
	summaries := make([]RoomSummary, 0, len(d.rooms))
	for _, room := range d.rooms {
		summaries = append(summaries, room.Summary())
	}
	return summaries
}

// Len 房間數量
func (d *Directory) Len() int {
	return len(d.rooms)
}
