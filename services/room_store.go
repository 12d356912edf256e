package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nardy-match-service/engine"
	"nardy-match-service/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomTTL bounds how long an active match may live in redis. A room that
// outlives it is gone for good; finished matches are deleted explicitly
// once recorded.
const RoomTTL = time.Hour

// RoomStore keeps live match state in redis: one JSON document per room
// plus a userID→roomID reverse index per human participant. Writes are
// always full-document replaces.
type RoomStore struct {
	rdb *redis.Client
}

func NewRoomStore(rdb *redis.Client) *RoomStore {
	return &RoomStore{rdb: rdb}
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

func roomUserKey(userID string) string {
	return "room:user:" + userID
}

// CreateRoom builds the initial state for the mode, marks it in progress
// and persists it together with the reverse-index entries for both human
// participants. Players are always set before the first persist, so
// DeleteRoom can rely on them.
func (s *RoomStore) CreateRoom(ctx context.Context, mode models.GameMode, white, black models.PlayerSlot) (string, models.MatchState, error) {
	roomID := uuid.NewString()

	state := engine.NewMatchState(mode, white, black)
	state.Status = models.StatusInProgress

	if err := s.SaveState(ctx, roomID, state); err != nil {
		return "", models.MatchState{}, err
	}

	for _, slot := range []models.PlayerSlot{white, black} {
		if slot.IsBot() {
			continue
		}
		if err := s.rdb.Set(ctx, roomUserKey(slot.UserID), roomID, RoomTTL).Err(); err != nil {
			return "", models.MatchState{}, fmt.Errorf("failed to index room %s for user %s: %w", roomID, slot.UserID, err)
		}
	}

	return roomID, state, nil
}

// GetState loads the full match document. Returns ErrRoomNotFound for
// unknown or expired rooms.
func (s *RoomStore) GetState(ctx context.Context, roomID string) (models.MatchState, error) {
	raw, err := s.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.MatchState{}, ErrRoomNotFound
	}
	if err != nil {
		return models.MatchState{}, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	var state models.MatchState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.MatchState{}, fmt.Errorf("corrupt state for room %s: %w", roomID, err)
	}
	return state, nil
}

// SaveState replaces the whole document and refreshes the TTL. Partial
// updates are not supported by design: concurrent writers must go through
// the per-room lock, not field-level merging.
func (s *RoomStore) SaveState(ctx context.Context, roomID string, state models.MatchState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for room %s: %w", roomID, err)
	}
	if err := s.rdb.Set(ctx, roomKey(roomID), raw, RoomTTL).Err(); err != nil {
		return fmt.Errorf("failed to save room %s: %w", roomID, err)
	}

	// Keep the reverse index alive as long as the room itself.
	for _, slot := range []models.PlayerSlot{state.Players.White, state.Players.Black} {
		if !slot.IsBot() {
			s.rdb.Expire(ctx, roomUserKey(slot.UserID), RoomTTL)
		}
	}
	return nil
}

// DeleteRoom removes the state document and both reverse-index entries.
// The participants are looked up from the stored state, so this is a no-op
// for rooms that already expired.
func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	state, err := s.GetState(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	keys := []string{roomKey(roomID)}
	for _, slot := range []models.PlayerSlot{state.Players.White, state.Players.Black} {
		if !slot.IsBot() {
			keys = append(keys, roomUserKey(slot.UserID))
		}
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

// GetRoomForUser resolves the room a user currently plays in. Supports
// reconnection after a dropped socket.
func (s *RoomStore) GetRoomForUser(ctx context.Context, userID string) (string, error) {
	roomID, err := s.rdb.Get(ctx, roomUserKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up room for user %s: %w", userID, err)
	}
	return roomID, nil
}
