package internal

// 系統設計問題：
//   如何在單一協調器行程內維護多人競速房間的一致狀態？
//
// 核心挑戰：
//   1. 狀態管理：房間狀態機（Waiting → Running → Waiting）＋玩家子狀態
//   2. 宿主語義：每個非空房間恰有一位房主，房主離開即房間解散
//   3. 載入屏障：所有在線玩家都回報載入完成才開賽
//   4. 亂序訊息：斷線與操作訊息可能交錯抵達，處理器必須容忍過期訊息
//
// 設計方案：
//   ✅ 有限狀態機（FSM）- 規範狀態轉換
//   ✅ 單一協調器鎖 - 所有房間變更都在 Coordinator 的鎖內進行
//   ✅ 記憶體為準 - 即時對局以記憶體狀態為唯一權威，持久化非同步跟進

// RoomStatus 房間狀態
//
// 狀態轉換規則：
//   - Waiting → Running：房主開賽（全員準備，或強制開賽）
//   - Running → Waiting：房主重置（賽後回到等待室）
//   - Waiting|Running → 刪除：房主離開／斷線／明確刪除
//   - Finished：終態。不由任何入站事件觸發，僅供外部流程標記。
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "Waiting"  // 等待玩家加入與準備
	StatusRunning  RoomStatus = "Running"  // 比賽進行中
	StatusFinished RoomStatus = "Finished" // 終態（本協調器不產生）
)

// PlayerStatus 玩家準備子狀態（僅在 Waiting 時有意義）
type PlayerStatus string

const (
	PlayerWaiting PlayerStatus = "waiting" // 未準備
	PlayerReady   PlayerStatus = "ready"   // 已準備
)

// Vector3 三維向量（位置／旋轉）
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Transform 玩家即時運動狀態，比賽中由 syncPosition 更新
type Transform struct {
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
	Speed    float64 `json:"speed"`
	Distance float64 `json:"distance"`
}

// PlayerSession 玩家會話
//
// 一條連線在一個房間內對持久玩家檔案的即時投影。
// 於建立／加入房間時誕生，於離開、被踢、斷線或房間解散時銷毀。
// OwnedCars 是檔案的唯讀鏡像，換車時用來驗證所有權。
type PlayerSession struct {
	SocketID  string       `json:"socketID"`
	PlayerID  string       `json:"playerId"`
	Name      string       `json:"name"`
	IsHost    bool         `json:"isHost"`
	Status    PlayerStatus `json:"status"`
	MainCar   int64        `json:"mainCar"`
	OwnedCars []int64      `json:"-"`
	Loaded    bool         `json:"loaded"` // 僅在 Running 期間有意義
	Transform Transform    `json:"-"`
}

// OwnsCar 檢查玩家是否擁有指定車輛
func (p *PlayerSession) OwnsCar(carID int64) bool {
	for _, id := range p.OwnedCars {
		if id == carID {
			return true
		}
	}
	return false
}

// Room 競速房間
//
// 並發模型：Room 自身不帶鎖。所有讀寫都發生在 Coordinator 的
// 單一鎖之內（參見 coordinator.go），等同於把整個房間目錄交給
// 一個 actor 持有，保留「先改記憶體、再等持久化」的順序。
type Room struct {
	ID       int64
	Value    int64  // 賭注
	Password string // 空字串表示無密碼
	Status   RoomStatus

	// socketID -> 會話。插入順序無意義。
	Sessions map[string]*PlayerSession

	// 本輪 Running 是否已廣播過 allPlayersLoaded。
	// 每次開賽重置，保證載入屏障訊號每輪至多觸發一次。
	allLoadedSent bool
}

// NewRoom 建立房間，sender 成為唯一的房主會話
func NewRoom(id int64, value int64, password string, host *PlayerSession) *Room {
	host.IsHost = true
	return &Room{
		ID:       id,
		Value:    value,
		Password: password,
		Status:   StatusWaiting,
		Sessions: map[string]*PlayerSession{
			host.SocketID: host,
		},
	}
}

// HasPassword 是否設有密碼
func (r *Room) HasPassword() bool {
	return r.Password != ""
}

// CheckPassword 驗證密碼
func (r *Room) CheckPassword(password string) bool {
	return r.Password == "" || r.Password == password
}

// Session 取得指定連線的會話
func (r *Room) Session(socketID string) (*PlayerSession, bool) {
	s, ok := r.Sessions[socketID]
	return s, ok
}

// Host 取得房主會話。非空房間恆有一位房主。
func (r *Room) Host() (*PlayerSession, bool) {
	for _, s := range r.Sessions {
		if s.IsHost {
			return s, true
		}
	}
	return nil, false
}

// IsHost 指定連線是否為房主
func (r *Room) IsHost(socketID string) bool {
	s, ok := r.Sessions[socketID]
	return ok && s.IsHost
}

// AddSession 加入非房主會話
func (r *Room) AddSession(s *PlayerSession) {
	r.Sessions[s.SocketID] = s
}

// RemoveSession 移除會話，回傳被移除的會話
func (r *Room) RemoveSession(socketID string) (*PlayerSession, bool) {
	s, ok := r.Sessions[socketID]
	if !ok {
		return nil, false
	}
	delete(r.Sessions, socketID)
	return s, true
}

// PlayerCount 玩家數量
func (r *Room) PlayerCount() int {
	return len(r.Sessions)
}

// Players 玩家會話切片（廣播用）
func (r *Room) Players() []*PlayerSession {
	players := make([]*PlayerSession, 0, len(r.Sessions))
	for _, s := range r.Sessions {
		players = append(players, s)
	}
	return players
}

// AllReady 是否所有玩家都已準備
func (r *Room) AllReady() bool {
	for _, s := range r.Sessions {
		if s.Status != PlayerReady {
			return false
		}
	}
	return true
}

// BeginRace 進入 Running：歸零所有人的運動狀態與載入旗標，
// 消耗本輪的準備狀態。
func (r *Room) BeginRace() {
	r.Status = StatusRunning
	r.allLoadedSent = false
	for _, s := range r.Sessions {
		s.Status = PlayerWaiting
		s.Loaded = false
		s.Transform = Transform{}
	}
}

// RevertRace 開賽持久化失敗時回滾：恢復 Waiting 與全員準備狀態
func (r *Room) RevertRace() {
	r.Status = StatusWaiting
	for _, s := range r.Sessions {
		s.Status = PlayerReady
		s.Loaded = false
	}
}

// ResetToWaiting 賽後重置：回到 Waiting，非房主準備狀態歸零
func (r *Room) ResetToWaiting() {
	r.Status = StatusWaiting
	r.allLoadedSent = false
	for _, s := range r.Sessions {
		if !s.IsHost {
			s.Status = PlayerWaiting
		}
		s.Loaded = false
	}
}

// LoadBarrierMet 載入屏障：每位目前在線的玩家都已回報載入完成。
// 空房間永遠不滿足屏障。每輪 Running 至多回報 true 一次。
func (r *Room) LoadBarrierMet() bool {
	if r.allLoadedSent || len(r.Sessions) == 0 {
		return false
	}
	for _, s := range r.Sessions {
		if !s.Loaded {
			return false
		}
	}
	r.allLoadedSent = true
	return true
}

// Summary 房間列表項目
func (r *Room) Summary() RoomSummary {
	return RoomSummary{
		ID:          r.ID,
		Status:      r.Status,
		Value:       r.Value,
		IsPassword:  r.HasPassword(),
		PlayerCount: len(r.Sessions),
	}
}

// Details 房間詳情（回覆給建立者／加入者）
func (r *Room) Details() roomDetailsPayload {
	return roomDetailsPayload{
		ID:          r.ID,
		Status:      r.Status,
		Value:       r.Value,
		PlayerCount: len(r.Sessions),
		Players:     r.Players(),
	}
}
