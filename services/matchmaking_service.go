package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"nardy-match-service/models"

	"github.com/redis/go-redis/v9"
)

const (
	// QueueEntryTTL drops players that waited too long without a match.
	// Expiry is silent; clients re-issue start-quick-game.
	QueueEntryTTL = 5 * time.Minute

	// DefaultRating is used for players the profile service has no rating
	// for yet.
	DefaultRating = 1500

	// Base rating tolerance plus its widening step: +50 for every full 10
	// seconds of waiting, unbounded.
	ratingToleranceBase = 200
	ratingToleranceStep = 50

	// premiumPriorityOffset pushes subscribers ahead of everyone else in
	// the queue ordering regardless of how long non-subscribers waited.
	premiumPriorityOffset = int64(1) << 41 // ~70 years in milliseconds
)

// PlayerProfile is the matchmaking-relevant snapshot of a player, fetched
// once at enqueue time.
type PlayerProfile struct {
	Rating    int  `json:"rating"`
	IsPremium bool `json:"is_premium"`
}

// ProfileProvider hands matchmaking the rating/subscription snapshot. The
// HTTP client against the profile service is the production implementation.
type ProfileProvider interface {
	GetProfile(ctx context.Context, userID string) (PlayerProfile, error)
}

// MatchmakingService queues players per mode in a redis sorted set ordered
// by priority score (join time, minus a large offset for subscribers) with
// the entry document stored alongside under a 5-minute TTL.
type MatchmakingService struct {
	rdb      *redis.Client
	profiles ProfileProvider

	now func() time.Time
}

func NewMatchmakingService(rdb *redis.Client, profiles ProfileProvider) *MatchmakingService {
	return &MatchmakingService{rdb: rdb, profiles: profiles, now: time.Now}
}

var queueModes = []models.GameMode{models.ModeShort, models.ModeLong}

func queueKey(mode models.GameMode) string {
	return fmt.Sprintf("mm:queue:%s", mode)
}

func entryKey(mode models.GameMode, userID string) string {
	return fmt.Sprintf("mm:entry:%s:%s", mode, userID)
}

// RatingTolerance is the widest rating gap matchmaking will accept for a
// player that has waited the given duration. Non-decreasing in wait time.
func RatingTolerance(wait time.Duration) int {
	steps := int(wait.Seconds()) / 10
	if steps < 0 {
		steps = 0
	}
	return ratingToleranceBase + ratingToleranceStep*steps
}

// Join enqueues a player, snapshotting rating and premium flag. Re-joining
// replaces the previous entry and restarts the wait clock.
func (s *MatchmakingService) Join(ctx context.Context, userID string, mode models.GameMode, bet int64, districtID string) (models.QueueEntry, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("[MATCHMAKING] Profile lookup failed for %s, using defaults: %v", userID, err)
		profile = PlayerProfile{Rating: DefaultRating}
	}
	if profile.Rating == 0 {
		profile.Rating = DefaultRating
	}

	entry := models.QueueEntry{
		UserID:     userID,
		Mode:       mode,
		BetAmount:  bet,
		DistrictID: districtID,
		JoinedAt:   s.now(),
		IsPremium:  profile.IsPremium,
		Rating:     profile.Rating,
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("failed to encode queue entry: %w", err)
	}

	score := entry.JoinedAt.UnixMilli()
	if entry.IsPremium {
		score -= premiumPriorityOffset
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, entryKey(mode, userID), raw, QueueEntryTTL)
	pipe.ZAdd(ctx, queueKey(mode), redis.Z{Score: float64(score), Member: userID})
	if _, err := pipe.Exec(ctx); err != nil {
		return models.QueueEntry{}, fmt.Errorf("failed to enqueue %s: %w", userID, err)
	}
	return entry, nil
}

// FindOpponent searches the caller's queue for a compatible opponent.
//
// The rating tolerance starts at 200 and widens by 50 for every 10 seconds
// the caller has waited. Subscribers first look among fellow subscribers;
// if that tier is empty the search falls back to every compatible entry.
// Within a tier the closest rating wins, ties going to queue order. On a
// match both entries leave the queue.
func (s *MatchmakingService) FindOpponent(ctx context.Context, userID string, mode models.GameMode, bet int64, districtID string) (*models.QueueEntry, error) {
	caller, err := s.getEntry(ctx, mode, userID)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, nil // caller not queued (or already expired)
	}

	tolerance := RatingTolerance(s.now().Sub(caller.JoinedAt))

	candidates, err := s.liveEntries(ctx, mode)
	if err != nil {
		return nil, err
	}

	var compatible []models.QueueEntry
	for _, e := range candidates {
		if e.UserID == userID {
			continue
		}
		if e.BetAmount != bet || e.DistrictID != districtID {
			continue
		}
		diff := e.Rating - caller.Rating
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			compatible = append(compatible, e)
		}
	}

	var opponent *models.QueueEntry
	if caller.IsPremium {
		opponent = closestRating(compatible, caller.Rating, func(e models.QueueEntry) bool { return e.IsPremium })
	}
	if opponent == nil {
		opponent = closestRating(compatible, caller.Rating, func(models.QueueEntry) bool { return true })
	}
	if opponent == nil {
		return nil, nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, queueKey(mode), userID, opponent.UserID)
	pipe.Del(ctx, entryKey(mode, userID), entryKey(mode, opponent.UserID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to dequeue matched pair: %w", err)
	}
	return opponent, nil
}

// Leave removes the player from every mode queue.
func (s *MatchmakingService) Leave(ctx context.Context, userID string) error {
	pipe := s.rdb.TxPipeline()
	for _, mode := range queueModes {
		pipe.ZRem(ctx, queueKey(mode), userID)
		pipe.Del(ctx, entryKey(mode, userID))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// IsQueued reports whether the player has a live entry in any mode queue.
func (s *MatchmakingService) IsQueued(ctx context.Context, userID string) (bool, error) {
	for _, mode := range queueModes {
		entry, err := s.getEntry(ctx, mode, userID)
		if err != nil {
			return false, err
		}
		if entry != nil {
			return true, nil
		}
	}
	return false, nil
}

// Sweep prunes queue members whose entry document expired or no longer
// decodes. Every read path prunes as a side effect already; the periodic
// sweep keeps the sorted sets tidy when nobody is searching.
func (s *MatchmakingService) Sweep(ctx context.Context) error {
	for _, mode := range queueModes {
		if _, err := s.liveEntries(ctx, mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *MatchmakingService) getEntry(ctx context.Context, mode models.GameMode, userID string) (*models.QueueEntry, error) {
	raw, err := s.rdb.Get(ctx, entryKey(mode, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue entry for %s: %w", userID, err)
	}
	var entry models.QueueEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Malformed entry: drop it rather than poison every search.
		s.rdb.ZRem(ctx, queueKey(mode), userID)
		s.rdb.Del(ctx, entryKey(mode, userID))
		return nil, nil
	}
	return &entry, nil
}

// liveEntries returns the queue in priority order, dropping members whose
// entry key has expired.
func (s *MatchmakingService) liveEntries(ctx context.Context, mode models.GameMode) ([]models.QueueEntry, error) {
	members, err := s.rdb.ZRange(ctx, queueKey(mode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue %s: %w", mode, err)
	}

	entries := make([]models.QueueEntry, 0, len(members))
	for _, member := range members {
		entry, err := s.getEntry(ctx, mode, member)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			s.rdb.ZRem(ctx, queueKey(mode), member)
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// closestRating picks the entry nearest the target rating among those the
// filter admits. Iteration order is queue priority order, and comparison
// is strict, so ties keep the earlier entry.
func closestRating(entries []models.QueueEntry, rating int, keep func(models.QueueEntry) bool) *models.QueueEntry {
	var best *models.QueueEntry
	bestDiff := 0
	for i := range entries {
		if !keep(entries[i]) {
			continue
		}
		diff := entries[i].Rating - rating
		if diff < 0 {
			diff = -diff
		}
		if best == nil || diff < bestDiff {
			best = &entries[i]
			bestDiff = diff
		}
	}
	return best
}
