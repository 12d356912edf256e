// engine implements the variant-aware backgammon (nardy) rules as pure
// functions over models.MatchState. Nothing in this package touches storage
// or the network; ApplyMove and SwitchTurn return fresh states instead of
// mutating their input.
package engine

import (
	"errors"
	"math/rand"
	"time"

	"nardy-match-service/models"
)

const (
	// BarFrom is the move origin used when re-entering a hit checker from
	// the bar (short mode only).
	BarFrom = -1
	// OffTo is the move target used when bearing a checker off the board.
	OffTo = -1

	CheckersPerColor = 15

	// DefaultTurnTimeLimit is the per-turn clock in seconds. The engine
	// only maintains the bookkeeping fields; enforcement is a client
	// concern.
	DefaultTurnTimeLimit = 60
)

var ErrInvalidMove = errors.New("invalid move")

// NewMatchState builds the starting state for a match. White always opens.
//
// Short mode uses the classic layout (mirrored home quadrants); long mode
// stacks all 15 checkers of each color on its single entry point.
func NewMatchState(mode models.GameMode, white, black models.PlayerSlot) models.MatchState {
	now := time.Now()
	state := models.MatchState{
		Mode:          mode,
		Status:        models.StatusWaiting,
		CurrentPlayer: models.White,
		Moves:         []models.Move{},
		TurnStartTime: now,
		TurnTimeLimit: DefaultTurnTimeLimit,
		Players:       models.Players{White: white, Black: black},
		CreatedAt:     now,
	}

	switch mode {
	case models.ModeLong:
		state.Board[0] = -15
		state.Board[23] = 15
	default:
		state.Board[0] = -2
		state.Board[11] = -5
		state.Board[16] = -3
		state.Board[18] = -5
		state.Board[5] = 3
		state.Board[7] = 5
		state.Board[12] = 5
		state.Board[23] = 2
	}

	return state
}

// RollDice draws two independent dice. Doubles are not combined into a
// single total; each die is spent on a separate move.
func RollDice() models.Dice {
	return models.Dice{
		Die1:     rand.Intn(6) + 1,
		Die2:     rand.Intn(6) + 1,
		RolledAt: time.Now(),
	}
}

// sign is the board encoding of a color: white stacks are negative,
// black stacks positive.
func sign(c models.Color) int {
	if c == models.White {
		return -1
	}
	return 1
}

// direction is the fixed travel direction: white ascends, black descends.
func direction(c models.Color) int {
	if c == models.White {
		return 1
	}
	return -1
}

func pointOwner(v int) (models.Color, bool) {
	switch {
	case v < 0:
		return models.White, true
	case v > 0:
		return models.Black, true
	default:
		return "", false
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// barEntryPoint is where a die re-enters a checker from the bar: white
// enters at die-1, black at 24-die.
func barEntryPoint(c models.Color, die int) int {
	if c == models.White {
		return die - 1
	}
	return 24 - die
}

// inHome reports whether a point lies in the color's home quadrant
// (white 0-5, black 18-23).
func inHome(c models.Color, point int) bool {
	if c == models.White {
		return point >= 0 && point <= 5
	}
	return point >= 18 && point <= 23
}

// IsValidMove is the variant-specific legality predicate for the current
// player. Distance must match the die exactly; dice are never combined
// into one move.
func IsValidMove(s models.MatchState, from, to, die int) bool {
	if die < 1 || die > 6 {
		return false
	}
	c := s.CurrentPlayer

	// Bar checkers must re-enter before anything else can move.
	if s.Mode == models.ModeShort && s.Bar.Get(c) > 0 && from != BarFrom {
		return false
	}

	if from == BarFrom {
		if s.Mode != models.ModeShort || s.Bar.Get(c) == 0 {
			return false
		}
		if to != barEntryPoint(c, die) || to < 0 || to > 23 {
			return false
		}
		return !isBlockedFor(s, c, to)
	}

	if from < 0 || from > 23 {
		return false
	}
	owner, occupied := pointOwner(s.Board[from])
	if !occupied || owner != c {
		return false
	}

	if to == OffTo {
		if !CanBearOff(s, c) || !inHome(c, from) {
			return false
		}
		return bearOffDieSufficient(c, from, die)
	}

	if to < 0 || to > 23 {
		return false
	}
	if to-from != direction(c)*die {
		return false
	}
	return !isBlockedFor(s, c, to)
}

// isBlockedFor applies the target-occupancy rules: in long mode any
// opponent-held point is off limits; in short mode two or more opposing
// checkers block, a lone one is a legal hit.
func isBlockedFor(s models.MatchState, c models.Color, to int) bool {
	owner, occupied := pointOwner(s.Board[to])
	if !occupied || owner == c {
		return false
	}
	if s.Mode == models.ModeLong {
		return true
	}
	return abs(s.Board[to]) >= 2
}

// bearOffDieSufficient: the die must carry the checker at least off the
// edge. White exits below point 0, black above point 23.
func bearOffDieSufficient(c models.Color, from, die int) bool {
	if c == models.White {
		return die >= from+1
	}
	return die >= 24-from
}

// CanBearOff reports whether the color may start bearing off: its bar is
// empty and every one of its board checkers sits inside its home quadrant.
func CanBearOff(s models.MatchState, c models.Color) bool {
	if s.Bar.Get(c) > 0 {
		return false
	}
	for i := range s.Board {
		owner, occupied := pointOwner(s.Board[i])
		if occupied && owner == c && !inHome(c, i) {
			return false
		}
	}
	return true
}

// ApplyMove validates and applies a single move, returning the resulting
// state. The input state is not modified. A short-mode hit on a lone
// opposing checker sends it to that color's bar.
func ApplyMove(s models.MatchState, from, to, die int) (models.MatchState, error) {
	if !IsValidMove(s, from, to, die) {
		return s, ErrInvalidMove
	}
	c := s.CurrentPlayer

	// Copy-on-write for the move log; the board array copies by value.
	s.Moves = append(append([]models.Move{}, s.Moves...), models.Move{
		From: from,
		To:   to,
		At:   time.Now(),
	})

	if from == BarFrom {
		s.Bar.Add(c, -1)
	} else {
		s.Board[from] -= sign(c)
	}

	if to == OffTo {
		s.Home.Add(c, 1)
		return s, nil
	}

	if owner, occupied := pointOwner(s.Board[to]); occupied && owner != c {
		// Lone opposing checker: hit it to the bar before landing.
		s.Board[to] = 0
		s.Bar.Add(owner, 1)
	}
	s.Board[to] += sign(c)

	return s, nil
}

// CheckEnd reports whether the match is over: a color has borne off all 15.
func CheckEnd(s models.MatchState) (bool, models.Color) {
	if s.Home.White >= CheckersPerColor {
		return true, models.White
	}
	if s.Home.Black >= CheckersPerColor {
		return true, models.Black
	}
	return false, ""
}

// SwitchTurn hands the turn to the other player: flips CurrentPlayer,
// clears the dice and restarts the turn clock.
func SwitchTurn(s models.MatchState) models.MatchState {
	s.CurrentPlayer = s.CurrentPlayer.Opponent()
	s.Dice = nil
	s.TurnStartTime = time.Now()
	return s
}
