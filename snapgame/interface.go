package snapgame

import (
	"errors"
	"time"
)

// Phase is the lifecycle phase of a betting round.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseOpen      Phase = "OPEN"
	PhaseLocked    Phase = "LOCKED"
	PhaseResolving Phase = "RESOLVING"
)

// Outcome is one of the two predictable results of a play.
type Outcome string

const (
	OutcomeRun  Outcome = "RUN"
	OutcomePass Outcome = "PASS"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeRun || o == OutcomePass
}

var (
	ErrGameLocked        = errors.New("bets are only accepted while the round is open")
	ErrInvalidAmount     = errors.New("bet amount must be a positive integer")
	ErrInvalidOutcome    = errors.New("unknown outcome")
	ErrInvalidTransition = errors.New("invalid round transition")
)

// Bet is a single player's stake in the current round. At most one Bet
// exists per address; a repeat placement mutates or replaces it.
type Bet struct {
	Address     string  `json:"address"`
	Amount      int64   `json:"amount"`
	Prediction  Outcome `json:"prediction"`
	PlacedAt    int64   `json:"placedAt"`
	DisplayName string  `json:"displayName,omitempty"`
}

// LeaderboardEntry is the cross-round tally for one address. Profit may go
// negative; wins only ever increments.
type LeaderboardEntry struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName,omitempty"`
	Profit      int64  `json:"profit"`
	Wins        int    `json:"wins"`
}

// Snapshot is a self-consistent copy of the whole game state, safe to hand
// to concurrent readers and to serialize at the HTTP boundary.
type Snapshot struct {
	Status      Phase              `json:"status"`
	RoundID     int64              `json:"roundId"`
	Pot         int64              `json:"pot"`
	TimeLeft    int64              `json:"timeLeft"`
	LastResult  *Outcome           `json:"lastResult"`
	Bets        []Bet              `json:"bets"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// BetResult reports the effect of a placed bet back to the caller.
type BetResult struct {
	Pot     int64
	Message string
	// Refund is non-zero only when the player switched sides and part of
	// the prior stake was returned.
	Refund int64
}

// DefaultRoundDuration is how long a round stays OPEN, in seconds.
const DefaultRoundDuration = 15

// clock abstracts wall time so the lazy round timer is testable.
type clock func() time.Time
