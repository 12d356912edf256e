package models

import "time"

// QueueEntry is one player waiting in the matchmaking queue. Rating and
// premium flag are snapshotted at enqueue time; the entry expires five
// minutes after JoinedAt unless paired or explicitly removed.
type QueueEntry struct {
	UserID     string    `json:"user_id"`
	Mode       GameMode  `json:"mode"`
	BetAmount  int64     `json:"bet_amount,omitempty"`
	DistrictID string    `json:"district_id,omitempty"`
	JoinedAt   time.Time `json:"joined_at"`
	IsPremium  bool      `json:"is_premium"`
	Rating     int       `json:"rating"`
}
