// Package engine implements the arithmetic duel round rules.
//
// This package is pure: no I/O, no timers. Every function that needs time,
// randomness, or identifiers takes them as arguments, so round generation
// and resolution are fully deterministic under test. The owning session
// layer is responsible for scheduling the resolution debounce window and
// the round timeout.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// FactorMin and FactorMax bound the two challenge factors (inclusive).
	FactorMin = 2
	FactorMax = 12

	// TieThreshold is the latency gap below which two correct submissions
	// count as simultaneous and are ordered by receipt instead.
	TieThreshold = 20 * time.Millisecond
)

// Rand is the randomness source for factor drawing. *math/rand.Rand
// satisfies it.
type Rand interface {
	Intn(n int) int
}

// IDFactory mints round identifiers.
type IDFactory func() uuid.UUID

// Outcome classifies the evaluation of one submitted answer.
type Outcome uint8

const (
	OutcomeIgnoredResolved  Outcome = iota // round already has a winner
	OutcomeIgnoredDuplicate                // player's correct answer already recorded
	OutcomeIncorrect
	OutcomeCorrectPending // recorded, resolution still debounced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnoredResolved:
		return "ignored/round-already-resolved"
	case OutcomeIgnoredDuplicate:
		return "ignored/duplicate-submission"
	case OutcomeIncorrect:
		return "incorrect"
	case OutcomeCorrectPending:
		return "correct-pending"
	}
	return "unknown"
}

// Submission records a correct answer together with its computed latency
// and the server wall-clock receipt time used for near-tie ordering.
type Submission struct {
	PlayerID   uuid.UUID
	Latency    time.Duration
	ReceivedAt time.Time
}

// Round is one arithmetic challenge within a session.
type Round struct {
	ID        uuid.UUID
	Left      int
	Right     int
	Expected  int
	StartedAt time.Time

	// Submitted holds the players whose correct submission has been
	// recorded. A wrong answer does not enter the set; the player may
	// retry within the same round.
	Submitted map[uuid.UUID]bool

	// Best is the currently preferred correct submission, folded via
	// PickPreferred. Not yet a declared winner until Finalize runs.
	Best *Submission

	WinnerID   uuid.UUID
	ResolvedAt time.Time
}

// NewRound draws two independent factors uniformly in [FactorMin, FactorMax]
// and returns a fresh round with empty submission state.
func NewRound(newID IDFactory, rng Rand, now time.Time) *Round {
	span := FactorMax - FactorMin + 1
	left := FactorMin + rng.Intn(span)
	right := FactorMin + rng.Intn(span)
	return &Round{
		ID:        newID(),
		Left:      left,
		Right:     right,
		Expected:  left * right,
		StartedAt: now,
		Submitted: make(map[uuid.UUID]bool, 2),
	}
}

// Prompt returns the human-readable challenge, e.g. "8 × 7".
func (r *Round) Prompt() string {
	return fmt.Sprintf("%d × %d", r.Left, r.Right)
}

// Resolved reports whether a winner has been declared for this round.
func (r *Round) Resolved() bool { return r.WinnerID != uuid.Nil }

// Evaluate applies one answer from playerID at time now.
//
// A correct answer is folded against the current best submission via the
// tie-break rule; it does not win instantly, the caller debounces
// resolution so a near-simultaneous rival answer can still contest the
// lead. Latency is floored at zero to guard against a clock reading taken
// before StartedAt.
func (r *Round) Evaluate(playerID uuid.UUID, answer float64, now time.Time) Outcome {
	if r.Resolved() {
		return OutcomeIgnoredResolved
	}
	if r.Submitted[playerID] {
		return OutcomeIgnoredDuplicate
	}
	if answer != float64(r.Expected) {
		return OutcomeIncorrect
	}

	latency := now.Sub(r.StartedAt)
	if latency < 0 {
		latency = 0
	}
	sub := &Submission{PlayerID: playerID, Latency: latency, ReceivedAt: now}
	r.Submitted[playerID] = true
	r.Best = PickPreferred(r.Best, sub, TieThreshold)
	return OutcomeCorrectPending
}

// PickPreferred selects the winning submission between the current best and
// a new candidate.
//
// If the latency gap is at least threshold, the lower-latency submission
// wins outright. Within the threshold the two are effectively simultaneous
// and the one received first by server wall clock is preferred; exactly
// equal receipt timestamps fall back to the lexicographically smaller
// player id, which is arbitrary but stable. This rewards genuine speed
// while not letting network jitter decide near-ties by arrival order alone.
func PickPreferred(current, candidate *Submission, threshold time.Duration) *Submission {
	if current == nil {
		return candidate
	}
	if candidate == nil {
		return current
	}

	gap := candidate.Latency - current.Latency
	if gap < 0 {
		gap = -gap
	}
	if gap >= threshold {
		if candidate.Latency < current.Latency {
			return candidate
		}
		return current
	}

	if candidate.ReceivedAt.Before(current.ReceivedAt) {
		return candidate
	}
	if current.ReceivedAt.Before(candidate.ReceivedAt) {
		return current
	}
	if candidate.PlayerID.String() < current.PlayerID.String() {
		return candidate
	}
	return current
}

// Finalize declares the winner from the best correct submission, if any.
// Idempotent once decided. Returns true when the round transitioned to
// resolved on this call.
func (r *Round) Finalize(now time.Time) bool {
	if r.Resolved() || r.Best == nil {
		return false
	}
	r.WinnerID = r.Best.PlayerID
	r.ResolvedAt = now
	return true
}

// TimedOut reports whether the round is unresolved and at least timeout has
// elapsed since it started.
func (r *Round) TimedOut(now time.Time, timeout time.Duration) bool {
	return !r.Resolved() && now.Sub(r.StartedAt) >= timeout
}

// ResolveTimeout discards a timed-out round and produces a freshly
// generated replacement; scores are unaffected, an unanswered round is a
// no-op rather than a loss. If the round has not timed out it is returned
// unchanged.
func (r *Round) ResolveTimeout(now time.Time, timeout time.Duration, next func() *Round) *Round {
	if !r.TimedOut(now, timeout) {
		return r
	}
	return next()
}
