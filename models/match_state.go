package models

import "time"

// GameMode selects the rule variant a match is played under.
// Fixed at creation, never changes.
type GameMode string

const (
	ModeShort GameMode = "SHORT" // classic backgammon: hitting + bar re-entry
	ModeLong  GameMode = "LONG"  // long nardy: no hitting, no bar
)

// MatchStatus lifecycle: WAITING → IN_PROGRESS → FINISHED | ABANDONED.
// Transitions never reverse.
type MatchStatus string

const (
	StatusWaiting    MatchStatus = "WAITING"
	StatusInProgress MatchStatus = "IN_PROGRESS"
	StatusFinished   MatchStatus = "FINISHED"
	StatusAbandoned  MatchStatus = "ABANDONED"
)

type Color string

const (
	White Color = "WHITE"
	Black Color = "BLACK"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// PlayerKind distinguishes a human-controlled slot from the built-in bot.
type PlayerKind string

const (
	PlayerHuman PlayerKind = "human"
	PlayerBot   PlayerKind = "bot"
)

// PlayerSlot identifies who controls one side of a match.
// A bot slot carries no user ID.
type PlayerSlot struct {
	Kind   PlayerKind `json:"kind"`
	UserID string     `json:"user_id,omitempty"`
}

func HumanSlot(userID string) PlayerSlot {
	return PlayerSlot{Kind: PlayerHuman, UserID: userID}
}

func BotSlot() PlayerSlot {
	return PlayerSlot{Kind: PlayerBot}
}

func (p PlayerSlot) IsBot() bool {
	return p.Kind == PlayerBot
}

// Dice is the current unspent roll. Nil on MatchState between turns.
type Dice struct {
	Die1     int       `json:"die1"`
	Die2     int       `json:"die2"`
	RolledAt time.Time `json:"rolled_at"`
}

// Move is one entry in the append-only move log.
// From == -1 means the checker entered from the bar; To == -1 means it was
// borne off.
type Move struct {
	From int       `json:"from"`
	To   int       `json:"to"`
	At   time.Time `json:"at"`
}

// CheckerCount holds a per-color non-negative counter (bar, home).
type CheckerCount struct {
	White int `json:"white"`
	Black int `json:"black"`
}

func (c CheckerCount) Get(col Color) int {
	if col == White {
		return c.White
	}
	return c.Black
}

func (c *CheckerCount) Add(col Color, n int) {
	if col == White {
		c.White += n
	} else {
		c.Black += n
	}
}

// Players maps each color to its controlling slot.
type Players struct {
	White PlayerSlot `json:"white"`
	Black PlayerSlot `json:"black"`
}

func (p Players) Slot(col Color) PlayerSlot {
	if col == White {
		return p.White
	}
	return p.Black
}

// ColorOf resolves a user ID to the color it controls in this match.
func (p Players) ColorOf(userID string) (Color, bool) {
	if p.White.Kind == PlayerHuman && p.White.UserID == userID {
		return White, true
	}
	if p.Black.Kind == PlayerHuman && p.Black.UserID == userID {
		return Black, true
	}
	return "", false
}

// RollCount tracks cumulative dice rolls per color. Consumed downstream by
// the equipment-wear service; the match engine only increments it.
type RollCount struct {
	White int `json:"white"`
	Black int `json:"black"`
}

func (r *RollCount) Incr(col Color) {
	if col == White {
		r.White++
	} else {
		r.Black++
	}
}

// MatchState is the authoritative record of one match. It is persisted as a
// single document: every save replaces the whole state, never individual
// fields.
//
// Board encoding: 24 points, sign is the owner (white negative, black
// positive), magnitude is the checker count on that point.
//
// Invariant per color: sum of board checkers + bar + home == 15.
type MatchState struct {
	Mode           GameMode    `json:"mode"`
	Status         MatchStatus `json:"status"`
	CurrentPlayer  Color       `json:"current_player"`
	Board          [24]int     `json:"board"`
	Bar            CheckerCount `json:"bar"`
	Home           CheckerCount `json:"home"`
	Dice           *Dice       `json:"dice,omitempty"`
	Moves          []Move      `json:"moves"`
	TurnStartTime  time.Time   `json:"turn_start_time"`
	TurnTimeLimit  int         `json:"turn_time_limit"` // seconds
	Players        Players     `json:"players"`
	DiceRollsCount RollCount   `json:"dice_rolls_count"`
	CreatedAt      time.Time   `json:"created_at"`
}
