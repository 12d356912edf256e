package engine

import (
	"context"
	"math/rand"
	"time"

	"nardy-match-service/models"
)

// CandidateMove is a move together with the die that pays for it. The die
// is needed to replay the move through ApplyMove.
type CandidateMove struct {
	From int `json:"from"`
	To   int `json:"to"`
	Die  int `json:"die"`
}

// Heuristic weights for move scoring. Additive per move.
const (
	scoreHit        = 100
	scoreStrategic  = 20
	scoreHomeEntry  = 30
	scoreBarExit    = 50
	scoreBearOff    = 40
	scoreSaveBlot   = 15
)

// strategicPoints are destinations worth holding: the blocking points in
// front of each home quadrant plus the midpoints.
var strategicPoints = map[int]bool{
	4: true, 5: true, 6: true,
	11: true, 12: true,
	17: true, 18: true, 19: true,
}

// dangerPoints are points where a lone checker is most exposed to a hit:
// both home quadrants, where re-entering and bearing-in traffic lands.
var dangerPoints = map[int]bool{
	0: true, 1: true, 2: true, 3: true, 4: true, 5: true,
	18: true, 19: true, 20: true, 21: true, 22: true, 23: true,
}

// Bot thinking delay bounds: responses land in [1s, 3s).
const (
	botDelayMin    = 1000 * time.Millisecond
	botDelayJitter = 2000
)

// LegalMoves enumerates every legal single move for the current player
// given the two dice, in a fixed priority order: bar re-entries (and only
// those, while the bar is non-empty), then bear-offs, then ordinary
// point-to-point moves.
func LegalMoves(s models.MatchState, die1, die2 int) []CandidateMove {
	c := s.CurrentPlayer

	dice := []int{die1, die2}
	if die1 == die2 {
		dice = dice[:1] // doubles produce identical candidates
	}

	var moves []CandidateMove

	if s.Mode == models.ModeShort && s.Bar.Get(c) > 0 {
		for _, die := range dice {
			to := barEntryPoint(c, die)
			if IsValidMove(s, BarFrom, to, die) {
				moves = append(moves, CandidateMove{From: BarFrom, To: to, Die: die})
			}
		}
		return moves
	}

	if CanBearOff(s, c) {
		for from := 0; from < 24; from++ {
			if owner, occupied := pointOwner(s.Board[from]); !occupied || owner != c {
				continue
			}
			for _, die := range dice {
				if IsValidMove(s, from, OffTo, die) {
					moves = append(moves, CandidateMove{From: from, To: OffTo, Die: die})
				}
			}
		}
	}

	for from := 0; from < 24; from++ {
		if owner, occupied := pointOwner(s.Board[from]); !occupied || owner != c {
			continue
		}
		for _, die := range dice {
			to := from + direction(c)*die
			if IsValidMove(s, from, to, die) {
				moves = append(moves, CandidateMove{From: from, To: to, Die: die})
			}
		}
	}

	return moves
}

// ScoreMove rates a single move. Weights are additive; no lookahead.
func ScoreMove(s models.MatchState, m CandidateMove) int {
	c := s.CurrentPlayer
	score := 0

	if m.To >= 0 && m.To <= 23 {
		if owner, occupied := pointOwner(s.Board[m.To]); occupied && owner != c && abs(s.Board[m.To]) == 1 {
			score += scoreHit
		}
		if strategicPoints[m.To] {
			score += scoreStrategic
		}
		if inHome(c, m.To) {
			score += scoreHomeEntry
		}
	}

	if m.From == BarFrom {
		score += scoreBarExit
	}
	if m.To == OffTo {
		score += scoreBearOff
	}

	// Self-preservation: reward moving a blot off a danger point.
	if m.From >= 0 && m.From <= 23 && abs(s.Board[m.From]) == 1 && dangerPoints[m.From] {
		score += scoreSaveBlot
	}

	return score
}

// ChooseMove returns the highest-scoring legal move for the already-rolled
// dice. Ties resolve to the first-enumerated maximum, so the choice is
// deterministic for a given state.
func ChooseMove(s models.MatchState) (CandidateMove, bool) {
	if s.Dice == nil {
		return CandidateMove{}, false
	}
	moves := LegalMoves(s, s.Dice.Die1, s.Dice.Die2)
	if len(moves) == 0 {
		return CandidateMove{}, false
	}

	best := moves[0]
	bestScore := ScoreMove(s, best)
	for _, m := range moves[1:] {
		if score := ScoreMove(s, m); score > bestScore {
			best = m
			bestScore = score
		}
	}
	return best, true
}

// Play picks a move after a randomized human-paced thinking delay. The
// delay is a plain timer on the calling goroutine, so concurrent rooms are
// never held up by each other; ctx aborts the wait early.
func Play(ctx context.Context, s models.MatchState) (CandidateMove, bool) {
	delay := botDelayMin + time.Duration(rand.Intn(botDelayJitter))*time.Millisecond

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return CandidateMove{}, false
	}

	return ChooseMove(s)
}
