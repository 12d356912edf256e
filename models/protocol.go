package models

import "encoding/json"

// Envelope is the wire frame for both directions of the websocket: an event
// name plus an event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientEvent is the closed set of inbound event names. The gateway
// dispatches over these exhaustively; anything else is rejected.
type ClientEvent string

const (
	EventJoinRoom       ClientEvent = "join-room"
	EventLeaveRoom      ClientEvent = "leave-room"
	EventGameAction     ClientEvent = "game-action"
	EventStartBotGame   ClientEvent = "start-bot-game"
	EventStartQuickGame ClientEvent = "start-quick-game"
	EventLeaveQueue     ClientEvent = "leave-queue"
	EventPing           ClientEvent = "ping"
)

// GameActionKind is the closed set of in-room game actions.
type GameActionKind string

const (
	ActionRollDice GameActionKind = "roll-dice"
	ActionMakeMove GameActionKind = "make-move"
	ActionEndTurn  GameActionKind = "end-turn"
)

type JoinRoomData struct {
	RoomID string `json:"roomId"`
}

type GameActionData struct {
	RoomID  string         `json:"roomId"`
	Action  GameActionKind `json:"action"`
	Payload MovePayload    `json:"payload"`
}

// MovePayload is non-empty only for make-move.
type MovePayload struct {
	From     int `json:"from"`
	To       int `json:"to"`
	DieValue int `json:"dieValue"`
}

type StartBotGameData struct {
	Mode GameMode `json:"mode"`
}

type StartQuickGameData struct {
	Mode       GameMode `json:"mode"`
	BetAmount  int64    `json:"betAmount,omitempty"`
	DistrictID string   `json:"districtId,omitempty"`
}

// Outbound event names pushed by the gateway.
const (
	PushDiceRolled       = "dice-rolled"
	PushGameStateUpdated = "game-state-updated"
	PushTurnSwitched     = "turn-switched"
	PushGameEnded        = "game-ended"
	PushGameFound        = "game-found"
	PushGameStarted      = "game-started"
	PushSearching        = "searching"
	PushQueueLeft        = "queue-left"
	PushPlayerJoined     = "player-joined"
	PushPlayerLeft       = "player-left"
	PushPong             = "pong"
	PushError            = "error"
)
