package game

import (
	"time"

	"github.com/Gandolfi-G/duel-dot/engine"
)

// Config carries the session timing knobs. Zero values are not usable;
// start from DefaultConfig.
type Config struct {
	// Countdown is the window between both players being connected and the
	// first round of a (re)start.
	Countdown time.Duration
	// CountdownTick is the interval at which remaining countdown time is
	// re-broadcast for client display.
	CountdownTick time.Duration
	// RoundTimeout replaces an unanswered round, scores unaffected.
	RoundTimeout time.Duration
	// ResolveDebounce is the window after the first correct answer during
	// which a near-simultaneous rival answer can still contest the lead.
	// It matches the engine tie-break threshold.
	ResolveDebounce time.Duration
	// NextRoundDelay separates a resolved round from the next one, giving
	// clients time to show the result.
	NextRoundDelay time.Duration
	// DisconnectGrace is how long a disconnected player may reconnect
	// before the session is forfeited (or deleted when empty).
	DisconnectGrace time.Duration
	// TargetScore ends the duel when reached.
	TargetScore int
}

// DefaultConfig returns the standard duel timings.
func DefaultConfig() Config {
	return Config{
		Countdown:       3 * time.Second,
		CountdownTick:   200 * time.Millisecond,
		RoundTimeout:    30 * time.Second,
		ResolveDebounce: engine.TieThreshold,
		NextRoundDelay:  1500 * time.Millisecond,
		DisconnectGrace: 60 * time.Second,
		TargetScore:     engine.TargetScore,
	}
}
