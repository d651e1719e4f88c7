// Package game implements the authoritative session state machine for a
// two-player arithmetic duel: lifecycle phases, round orchestration,
// disconnect grace and reconnection, and rematch coordination. Pure round
// computation lives in the engine package; this package owns the timers
// and the broadcast of redacted snapshots after every mutation.
package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/Gandolfi-G/duel-dot/engine"
	"github.com/Gandolfi-G/duel-dot/internal/cache"
	"github.com/Gandolfi-G/duel-dot/internal/models"
)

// MaxPlayers is the number of players in a duel session.
const MaxPlayers = 2

var (
	// ErrSessionFull is returned when joining a session that already has
	// two players.
	ErrSessionFull = errors.New("session full")
	// ErrBadToken is returned when a reconnect token matches no player.
	ErrBadToken = errors.New("reconnection credential mismatch")
)

// Phase is the session's state-machine state.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhasePlaying   Phase = "playing"
	PhasePaused    Phase = "paused"
	PhaseFinished  Phase = "finished"
)

// phaseTimers lists the timer classes a phase may own. Entering a phase
// cancels everything else, so stale timers cannot outlive the phase that
// scheduled them. The disconnect grace also runs in waiting/finished to
// reap sessions nobody is connected to.
var phaseTimers = map[Phase][]timerClass{
	PhaseWaiting:   {timerDisconnectGrace},
	PhaseCountdown: {timerCountdownEnd, timerCountdownTick},
	PhasePlaying:   {timerRoundTimeout, timerResolveDebounce, timerNextRound},
	PhasePaused:    {timerDisconnectGrace},
	PhaseFinished:  {timerDisconnectGrace},
}

// legalTransitions is the session state machine's edge set.
var legalTransitions = map[Phase][]Phase{
	PhaseWaiting:   {PhaseCountdown},
	PhaseCountdown: {PhasePlaying, PhasePaused},
	PhasePlaying:   {PhasePaused, PhaseFinished},
	PhasePaused:    {PhaseCountdown, PhaseFinished},
	PhaseFinished:  {PhasePlaying},
}

// Session represents the state and logic for a single duel instance. All
// exported methods are safe for concurrent use; inbound events and timer
// callbacks each run to completion under the session mutex.
type Session struct {
	Code string

	Mu              sync.Mutex
	Phase           Phase
	Players         []*models.Player // ordered, 0–2 entries
	Scores          engine.Scoreboard
	Round           *engine.Round
	CountdownEndsAt time.Time
	GraceDeadlineAt time.Time
	WinnerPlayerID  uuid.UUID
	RematchVotes    map[uuid.UUID]bool

	cfg        Config
	clock      clockwork.Clock
	rng        engine.Rand
	newRoundID engine.IDFactory
	timers     *timerSet
	eventIndex int
	closed     bool

	// Send delivers an event to one transport channel; set by the owner
	// before the session receives traffic.
	Send SendFunc
	// OnClosed is executed when the session deletes itself.
	OnClosed OnClosedFunc

	log *logrus.Entry
}

// NewSession creates a session in the waiting phase.
func NewSession(code string, cfg Config, clock clockwork.Clock) *Session {
	s := &Session{
		Code:         code,
		Phase:        PhaseWaiting,
		Scores:       engine.NewScoreboard(),
		RematchVotes: make(map[uuid.UUID]bool),
		cfg:          cfg,
		clock:        clock,
		newRoundID:   uuid.New,
		log:          logrus.WithField("session", code),
	}
	s.rng = rand.New(rand.NewSource(clock.Now().UnixNano()))
	s.timers = newTimerSet(clock, &s.Mu)
	return s
}

// AddPlayer joins a player on create/join. With the second connected
// player present the session advances to the start countdown.
func (s *Session) AddPlayer(nickname string, channelID uuid.UUID) (*models.Player, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	nick, err := models.SanitizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	if len(s.Players) >= MaxPlayers {
		return nil, ErrSessionFull
	}

	p := models.NewPlayer(nick, channelID)
	s.Players = append(s.Players, p)
	s.Scores[p.ID] = 0
	s.log.WithFields(logrus.Fields{"player": p.ID, "nickname": nick}).Info("player joined")
	s.logEvent(p.ID, "player_join", map[string]interface{}{"nickname": nick})

	// A lone creator who dropped before anyone joined no longer holds the
	// session open.
	s.timers.cancel(timerDisconnectGrace)
	s.GraceDeadlineAt = time.Time{}

	if s.readyToStart() {
		s.enterCountdown()
	}
	s.broadcastState()
	return p, nil
}

// Reconnect rebinds a player identified by their secret token to a new
// transport channel. Once both players are connected again a paused game
// resumes via the countdown restart path, scores preserved.
func (s *Session) Reconnect(token string, channelID uuid.UUID) (*models.Player, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	var p *models.Player
	for _, pl := range s.Players {
		if pl.Token == token {
			p = pl
			break
		}
	}
	if p == nil {
		return nil, ErrBadToken
	}

	p.Connected = true
	p.ChannelID = channelID
	s.log.WithField("player", p.ID).Info("player reconnected")
	s.logEvent(p.ID, "player_reconnect", nil)

	switch s.Phase {
	case PhasePaused:
		if s.allConnected() {
			s.GraceDeadlineAt = time.Time{}
			s.enterCountdown()
		}
	case PhaseWaiting, PhaseFinished:
		s.timers.cancel(timerDisconnectGrace)
		s.GraceDeadlineAt = time.Time{}
		if s.readyToStart() {
			s.enterCountdown()
		}
	}
	s.broadcastState()
	return p, nil
}

// HandleDisconnect processes a transport-level disconnect for the given
// channel. Unknown channels are ignored.
func (s *Session) HandleDisconnect(channelID uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	p := s.playerByChannel(channelID)
	if p == nil {
		return
	}
	p.Connected = false
	p.ChannelID = uuid.Nil
	s.log.WithField("player", p.ID).Info("player disconnected")
	s.logEvent(p.ID, "player_disconnect", nil)

	switch s.Phase {
	case PhaseCountdown, PhasePlaying:
		// Pause immediately: the round and countdown are discarded, scores
		// are preserved, and the single grace timer starts.
		s.Round = nil
		s.CountdownEndsAt = time.Time{}
		s.setPhase(PhasePaused)
		s.startGrace()
	case PhasePaused:
		// Second player gone too; the original grace timer keeps running.
	case PhaseWaiting, PhaseFinished:
		if s.connectedCount() == 0 {
			s.startGrace()
		}
	}
	s.broadcastState()
}

// HandleRematchVote records a rematch vote from the player bound to the
// channel. Votes outside the finished phase, or from unbound channels,
// have no effect. A unanimous vote restarts straight into playing —
// intentionally skipping the countdown the initial start goes through.
func (s *Session) HandleRematchVote(channelID uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	p := s.playerByChannel(channelID)
	if p == nil {
		return
	}
	if s.Phase != PhaseFinished {
		s.log.WithField("player", p.ID).Debug("rematch vote ignored outside finished phase")
		return
	}
	if s.RematchVotes[p.ID] {
		return
	}
	s.RematchVotes[p.ID] = true
	s.logEvent(p.ID, "rematch_vote", nil)

	if len(s.Players) == MaxPlayers && len(s.RematchVotes) == MaxPlayers {
		s.Scores = s.Scores.Reset()
		s.WinnerPlayerID = uuid.Nil
		s.RematchVotes = make(map[uuid.UUID]bool)
		s.setPhase(PhasePlaying)
		s.log.Info("rematch started")
		s.logEvent(uuid.Nil, "rematch_start", nil)
		s.startRound()
		return
	}
	s.broadcastState()
}

// ---------------------------------------------------------------------------
// Phase transitions
// ---------------------------------------------------------------------------

// setPhase applies a phase transition, cancelling every timer class the new
// phase does not own. Illegal edges are refused; the handlers only drive
// legal ones, so a refusal indicates a bug worth a loud log line.
func (s *Session) setPhase(next Phase) {
	if s.Phase != next {
		legal := false
		for _, to := range legalTransitions[s.Phase] {
			if to == next {
				legal = true
				break
			}
		}
		if !legal {
			s.log.WithFields(logrus.Fields{"from": s.Phase, "to": next}).Error("illegal phase transition refused")
			return
		}
		s.log.WithFields(logrus.Fields{"from": s.Phase, "to": next}).Info("phase transition")
	}
	s.timers.cancelAllExcept(phaseTimers[next]...)
	s.Phase = next
}

// readyToStart reports whether the waiting session has both players
// connected.
func (s *Session) readyToStart() bool {
	return s.Phase == PhaseWaiting && len(s.Players) == MaxPlayers && s.allConnected()
}

// enterCountdown (re)starts the fixed pre-round countdown window. Scores
// are untouched: initial start and pause-resume share this path.
func (s *Session) enterCountdown() {
	s.Round = nil
	s.RematchVotes = make(map[uuid.UUID]bool)
	s.GraceDeadlineAt = time.Time{}
	s.setPhase(PhaseCountdown)
	s.CountdownEndsAt = s.clock.Now().Add(s.cfg.Countdown)
	s.timers.schedule(timerCountdownEnd, s.cfg.Countdown, s.onCountdownEnd)
	s.timers.schedule(timerCountdownTick, s.cfg.CountdownTick, s.onCountdownTick)
	s.logEvent(uuid.Nil, "countdown_start", nil)
}

// onCountdownTick re-broadcasts the remaining countdown for client display.
func (s *Session) onCountdownTick() {
	if s.Phase != PhaseCountdown {
		return
	}
	s.broadcastState()
	s.timers.schedule(timerCountdownTick, s.cfg.CountdownTick, s.onCountdownTick)
}

// onCountdownEnd transitions into playing and starts the first round.
func (s *Session) onCountdownEnd() {
	if s.Phase != PhaseCountdown {
		return
	}
	s.CountdownEndsAt = time.Time{}
	s.setPhase(PhasePlaying)
	s.startRound()
}

// startGrace arms the disconnect grace timer unless one is already
// running; the window is shared by both players, not per-disconnect.
func (s *Session) startGrace() {
	if s.timers.scheduled(timerDisconnectGrace) {
		return
	}
	s.GraceDeadlineAt = s.clock.Now().Add(s.cfg.DisconnectGrace)
	s.timers.schedule(timerDisconnectGrace, s.cfg.DisconnectGrace, s.onGraceExpired)
}

// onGraceExpired forfeits the duel to whoever is still connected, or
// deletes the session outright when nobody is.
func (s *Session) onGraceExpired() {
	s.GraceDeadlineAt = time.Time{}
	if len(s.Players) > 0 && s.allConnected() {
		return
	}
	connected := s.connectedPlayers()
	if len(connected) == 0 {
		s.closeLocked("abandoned")
		return
	}
	if s.Phase == PhasePaused {
		s.log.WithField("winner", connected[0].ID).Info("disconnect grace expired, forfeiting")
		s.finish(connected[0].ID, "forfeit")
		return
	}
	s.broadcastState()
}

// finish moves the session to its terminal phase with a fixed winner.
func (s *Session) finish(winner uuid.UUID, reason string) {
	s.Round = nil
	s.CountdownEndsAt = time.Time{}
	s.WinnerPlayerID = winner
	s.RematchVotes = make(map[uuid.UUID]bool)
	s.setPhase(PhaseFinished)
	s.logEvent(winner, "session_finished", map[string]interface{}{"reason": reason})
	s.broadcastState()
}

// closeLocked tears the session down and notifies the owner. Idempotent.
func (s *Session) closeLocked(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.timers.cancelAllExcept()
	s.log.WithField("reason", reason).Info("session closed")
	s.logEvent(uuid.Nil, "session_closed", map[string]interface{}{"reason": reason})
	if s.OnClosed != nil {
		s.OnClosed(s.Code)
	}
}

// ---------------------------------------------------------------------------
// Lookup helpers — lock held by caller
// ---------------------------------------------------------------------------

func (s *Session) playerByChannel(channelID uuid.UUID) *models.Player {
	if channelID == uuid.Nil {
		return nil
	}
	for _, p := range s.Players {
		if p.ChannelID == channelID {
			return p
		}
	}
	return nil
}

func (s *Session) connectedCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (s *Session) connectedPlayers() []*models.Player {
	out := make([]*models.Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) allConnected() bool {
	return s.connectedCount() == len(s.Players)
}

// ---------------------------------------------------------------------------
// Event delivery — lock held by caller
// ---------------------------------------------------------------------------

// fireEvent pushes an event to every connected player.
func (s *Session) fireEvent(ev Event) {
	if s.Send == nil {
		s.log.Warn("send callback unset, dropping event")
		return
	}
	for _, p := range s.Players {
		if p.Connected {
			s.Send(p.ChannelID, ev)
		}
	}
}

// fireEventToPlayer pushes an event to a single connected player.
func (s *Session) fireEventToPlayer(p *models.Player, ev Event) {
	if s.Send == nil || !p.Connected {
		return
	}
	s.Send(p.ChannelID, ev)
}

// broadcastState recomputes the redacted projection and pushes it to both
// players. Called after every state mutation, never cached.
func (s *Session) broadcastState() {
	snap := s.snapshotLocked()
	s.fireEvent(Event{Type: EventState, State: &snap})
}

// logEvent appends to the session's asynchronous match-event history.
// Fire-and-forget; a missing or failing Redis never blocks game handling.
func (s *Session) logEvent(actorID uuid.UUID, eventType string, payload map[string]interface{}) {
	s.eventIndex++
	if payload == nil {
		payload = make(map[string]interface{})
	}
	rec := cache.MatchEventRecord{
		SessionCode: s.Code,
		EventIndex:  s.eventIndex,
		ActorID:     actorID,
		EventType:   eventType,
		Payload:     payload,
		Timestamp:   s.clock.Now().UnixMilli(),
	}
	go func(rec cache.MatchEventRecord) {
		if cache.Rdb == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.PublishMatchEvent(ctx, rec); err != nil {
			logrus.WithError(err).WithField("session", rec.SessionCode).Warn("failed publishing match event")
		}
	}(rec)
}
