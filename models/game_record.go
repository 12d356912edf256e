package models

import "time"

// GameRecord is the durable row written when a match finishes. The live
// match state lives in redis while the room is active; this table is the
// only thing that survives the room TTL.
type GameRecord struct {
	ID            string   `gorm:"primaryKey;type:uuid" json:"id"`
	RoomID        string   `gorm:"index;not null" json:"room_id"`
	Mode          GameMode `gorm:"type:varchar(8);not null" json:"mode"`
	WhitePlayerID string   `gorm:"index" json:"white_player_id"` // empty = bot
	BlackPlayerID string   `gorm:"index" json:"black_player_id"`
	WinnerID      string   `gorm:"index" json:"winner_id"`

	// Full final state and move log, serialized for replay/analytics
	// consumers. This service never reads them back.
	GameStateJSON string `gorm:"type:jsonb" json:"game_state_json"`
	MovesJSON     string `gorm:"type:jsonb" json:"moves_json"`

	DurationSec int       `gorm:"default:0" json:"duration_sec"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
