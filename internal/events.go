package internal

import "encoding/json"

// 線上協議：每則訊息（進出皆同）是一個 {event, data} 信封。
// 欄位命名沿用既有客戶端協議，包括 playerId / playerID 的大小寫差異，
// 改動任何一個都會破壞舊版客戶端。

// Envelope 訊息信封
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// 入站事件
const (
	EventCreateRoom      = "createRoom"
	EventJoinRoom        = "joinRoom"
	EventLeaveRoom       = "leaveRoom"
	EventKickPlayer      = "kickPlayer"
	EventStartGame       = "startGame"
	EventWaitingRoom     = "waitingRoom"
	EventPlayerReady     = "playerReady"
	EventPlayerChangeCar = "playerChangeCar"
	EventLoadingGame     = "loadingGame"
	EventSyncPosition    = "syncPosition"
	EventSyncCarPosition = "syncCarPosition"
	EventPingCheck       = "ping_check"
)

// 出站事件
const (
	EventRoomListUpdated      = "roomListUpdated"
	EventYourSocketID         = "yourSocketId"
	EventRoomDetails          = "roomDetails"
	EventUpdatePlayers        = "updatePlayers"
	EventPlayerJoined         = "playerJoined"
	EventPlayerLeft           = "playerLeft"
	EventRoomClosed           = "roomClosed"
	EventKicked               = "kicked"
	EventPlayerKicked         = "playerKicked"
	EventGameStarted          = "gameStarted"
	EventGameStartFailed      = "gameStartFailed"
	EventUpdateWaitingRoom    = "updateWaitingRoom"
	EventPlayerIsReady        = "playerIsReady"
	EventAllPlayersLoaded     = "allPlayersLoaded"
	EventPlayerPositionUpdate = "playerPositionUpdate"
	EventCarPositionUpdate    = "carPositionUpdate"
	EventError                = "error"
	EventPingResponse         = "ping_response"
)

// 入站負載

type createRoomPayload struct {
	Value    int64  `json:"value"`
	Password string `json:"password"`
	PlayerID string `json:"playerId"`
}

type joinRoomPayload struct {
	RoomID   int64  `json:"roomID"`
	PlayerID string `json:"playerId"`
	Password string `json:"password"`
}

type kickPlayerPayload struct {
	RoomID         int64  `json:"roomID"`
	TargetSocketID string `json:"targetSocketID"`
}

type startGamePayload struct {
	RoomID int64  `json:"roomID"`
	Map    string `json:"map"`
	Force  bool   `json:"force"`
}

type waitingRoomPayload struct {
	RoomID int64 `json:"roomID"`
}

type playerReadyPayload struct {
	RoomID   int64  `json:"roomID"`
	PlayerID string `json:"playerID"`
}

type playerChangeCarPayload struct {
	RoomID   int64  `json:"roomID"`
	PlayerID string `json:"playerID"`
	MainCar  int64  `json:"mainCar"`
}

type loadingGamePayload struct {
	RoomID   int64  `json:"roomID"`
	PlayerID string `json:"playerID"`
}

type syncPositionPayload struct {
	RoomID   int64   `json:"roomID"`
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
	Speed    float64 `json:"speed"`
	Distance float64 `json:"distance"`
}

type syncCarPositionPayload struct {
	RoomID   int64   `json:"roomID"`
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
	Speed    float64 `json:"speed"`
}

// 出站負載

// RoomSummary 房間列表項目
type RoomSummary struct {
	ID          int64      `json:"id"`
	Status      RoomStatus `json:"status"`
	Value       int64      `json:"value"`
	IsPassword  bool       `json:"isPassword"`
	PlayerCount int        `json:"playerCount"`
}

type roomListPayload struct {
	Rooms []RoomSummary `json:"rooms"`
}

type yourSocketIDPayload struct {
	SocketID string `json:"socketID"`
}

type roomDetailsPayload struct {
	ID          int64            `json:"id"`
	Status      RoomStatus       `json:"status"`
	Value       int64            `json:"value"`
	PlayerCount int              `json:"playerCount"`
	Players     []*PlayerSession `json:"players"`
}

type updatePlayersPayload struct {
	Players []*PlayerSession `json:"players"`
}

type playerJoinedPayload struct {
	Player *PlayerSession `json:"player"`
}

type playerLeftPayload struct {
	SocketID string `json:"socketID"`
	PlayerID string `json:"playerId"`
}

type roomClosedPayload struct {
	Reason string `json:"reason"`
}

type kickedPayload struct {
	RoomID int64  `json:"roomID"`
	Reason string `json:"reason"`
}

type playerKickedPayload struct {
	SocketID string `json:"socketID"`
	PlayerID string `json:"playerId"`
}

type gameStartedPayload struct {
	RoomID  int64            `json:"roomID"`
	Map     string           `json:"map"`
	Status  RoomStatus       `json:"status"`
	Players []*PlayerSession `json:"players"`
}

type updateWaitingRoomPayload struct {
	RoomID int64      `json:"roomID"`
	Status RoomStatus `json:"status"`
}

type playerIsReadyPayload struct {
	SocketID string `json:"socketID"`
	PlayerID string `json:"playerId"`
}

type allPlayersLoadedPayload struct {
	RoomID int64 `json:"roomID"`
}

type playerPositionUpdatePayload struct {
	SocketID string  `json:"socketID"`
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
	Speed    float64 `json:"speed"`
	Distance float64 `json:"distance"`
}

type carPositionUpdatePayload struct {
	SocketID string  `json:"socketID"`
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
	Speed    float64 `json:"speed"`
}

type errorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// encodeMessage 序列化出站信封
func encodeMessage(event string, data any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event": event,
		"data":  data,
	})
}
