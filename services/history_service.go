package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"nardy-match-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GameResult is the hand-off payload for a finished match.
type GameResult struct {
	RoomID        string
	Mode          models.GameMode
	WhitePlayerID string // empty when the slot was the bot
	BlackPlayerID string
	WinnerID      string
	State         models.MatchState
	Duration      time.Duration
}

// HistoryService persists finished matches. Callers treat it as
// fire-and-forget: the gateway never depends on the returned error beyond
// logging it.
type HistoryService struct {
	DB *gorm.DB
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{DB: db}
}

// SaveGame writes one GameRecord row for the finished match.
func (s *HistoryService) SaveGame(result GameResult) error {
	stateJSON, err := json.Marshal(result.State)
	if err != nil {
		return fmt.Errorf("failed to encode game state for room %s: %w", result.RoomID, err)
	}
	movesJSON, err := json.Marshal(result.State.Moves)
	if err != nil {
		return fmt.Errorf("failed to encode move log for room %s: %w", result.RoomID, err)
	}

	record := models.GameRecord{
		ID:            uuid.NewString(),
		RoomID:        result.RoomID,
		Mode:          result.Mode,
		WhitePlayerID: result.WhitePlayerID,
		BlackPlayerID: result.BlackPlayerID,
		WinnerID:      result.WinnerID,
		GameStateJSON: string(stateJSON),
		MovesJSON:     string(movesJSON),
		DurationSec:   int(result.Duration.Seconds()),
	}

	if err := s.DB.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save game record for room %s: %w", result.RoomID, err)
	}

	log.Printf("✅ Recorded finished game %s (room %s, winner %s)", record.ID, result.RoomID, result.WinnerID)
	return nil
}
