package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// timerClass enumerates the timer slots a session may own. Each class holds
// at most one active timer; scheduling a class replaces its predecessor.
type timerClass uint8

const (
	timerCountdownEnd timerClass = iota
	timerCountdownTick
	timerRoundTimeout
	timerResolveDebounce
	timerDisconnectGrace
	timerNextRound
	numTimerClasses
)

func (c timerClass) String() string {
	switch c {
	case timerCountdownEnd:
		return "countdown_end"
	case timerCountdownTick:
		return "countdown_tick"
	case timerRoundTimeout:
		return "round_timeout"
	case timerResolveDebounce:
		return "resolve_debounce"
	case timerDisconnectGrace:
		return "disconnect_grace"
	case timerNextRound:
		return "next_round"
	}
	return "unknown"
}

// timerSet owns a session's active timers, one slot per class. All methods
// must be called with the session lock held. Fired callbacks re-acquire the
// lock and validate their sequence number, so a timer that fires just
// before being cancelled becomes a no-op instead of mutating stale state.
type timerSet struct {
	clock  clockwork.Clock
	mu     *sync.Mutex
	active [numTimerClasses]clockwork.Timer
	seq    [numTimerClasses]uint64
}

func newTimerSet(clock clockwork.Clock, mu *sync.Mutex) *timerSet {
	return &timerSet{clock: clock, mu: mu}
}

// schedule replaces any active timer of class c with one firing after d.
// fn runs with the session lock held, and only if this schedule is still
// the current one for its class.
func (ts *timerSet) schedule(c timerClass, d time.Duration, fn func()) {
	ts.cancel(c)
	seq := ts.seq[c]
	ts.active[c] = ts.clock.AfterFunc(d, func() {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		if ts.seq[c] != seq {
			return // superseded or cancelled while firing
		}
		ts.active[c] = nil
		fn()
	})
}

// cancel stops the class's timer if any and invalidates in-flight
// callbacks. Cancelling an idle class is a no-op.
func (ts *timerSet) cancel(c timerClass) {
	ts.seq[c]++
	if t := ts.active[c]; t != nil {
		t.Stop()
		ts.active[c] = nil
	}
}

// scheduled reports whether the class currently has an armed timer.
func (ts *timerSet) scheduled(c timerClass) bool { return ts.active[c] != nil }

// cancelAllExcept cancels every class not listed in keep. Phase transitions
// use this so the timers owned by the previous phase cannot leak.
func (ts *timerSet) cancelAllExcept(keep ...timerClass) {
	for c := timerClass(0); c < numTimerClasses; c++ {
		kept := false
		for _, k := range keep {
			if c == k {
				kept = true
				break
			}
		}
		if !kept {
			ts.cancel(c)
		}
	}
}
