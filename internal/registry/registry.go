// Package registry maps public session codes to live session instances.
// Sessions are evicted through their OnClosed callback (disconnect grace
// expiring with nobody connected); idle-but-connected sessions persist for
// the process lifetime.
package registry

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Gandolfi-G/duel-dot/internal/game"
)

// Session codes avoid visually ambiguous characters (0/O, 1/I).
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 5
)

// ErrSessionNotFound is returned when a code matches no live session.
var ErrSessionNotFound = errors.New("session not found")

// Factory builds a fully wired session for a freshly generated code.
type Factory func(code string) *game.Session

// Registry is the process-wide code → session store.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*game.Session
	rng      *rand.Rand
	factory  Factory
}

// New creates an empty registry using factory for session construction.
func New(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*game.Session),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		factory:  factory,
	}
}

// Create allocates a unique code and registers a new session for it.
func (r *Registry) Create() *game.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.newCodeLocked()
	s := r.factory(code)
	r.sessions[code] = s
	logrus.WithFields(logrus.Fields{"session": code, "live": len(r.sessions)}).Info("session created")
	return s
}

// Get looks up a session by code, case-insensitively.
func (r *Registry) Get(code string) (*game.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove evicts a session. Removing an unknown code is a no-op.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[code]; !ok {
		return
	}
	delete(r.sessions, code)
	logrus.WithFields(logrus.Fields{"session": code, "live": len(r.sessions)}).Info("session evicted")
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// newCodeLocked draws codes until one is free. Collisions are vanishingly
// rare at realistic session counts (32^5 ≈ 33.5M codes).
func (r *Registry) newCodeLocked() string {
	for {
		buf := make([]byte, codeLength)
		for i := range buf {
			buf[i] = codeAlphabet[r.rng.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		if _, taken := r.sessions[code]; !taken {
			return code
		}
	}
}
