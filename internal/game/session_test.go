package game

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gandolfi-G/duel-dot/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// recorder captures pushed events per transport channel for assertions.
type recorder struct {
	mu     sync.Mutex
	events map[uuid.UUID][]Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[uuid.UUID][]Event)}
}

func (r *recorder) send(channelID uuid.UUID, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[channelID] = append(r.events[channelID], ev)
}

func (r *recorder) lastFeedback(ch uuid.UUID) *AnswerFeedback {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events[ch]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == EventAnswerFeedback {
			return evs[i].Feedback
		}
	}
	return nil
}

func (r *recorder) lastResolved(ch uuid.UUID) *RoundResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events[ch]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == EventRoundResolved {
			return evs[i].Resolved
		}
	}
	return nil
}

// fixture wires a session to a fake clock and the event recorder.
type fixture struct {
	t     *testing.T
	clock *clockwork.FakeClock
	rec   *recorder
	sess  *Session

	ch1, ch2 uuid.UUID
	p1, p2   *models.Player

	closedMu sync.Mutex
	closed   []string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		clock: clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		rec:   newRecorder(),
		ch1:   uuid.New(),
		ch2:   uuid.New(),
	}
	f.sess = NewSession("AB2CD", cfg, f.clock)
	f.sess.Send = f.rec.send
	f.sess.OnClosed = func(code string) {
		f.closedMu.Lock()
		defer f.closedMu.Unlock()
		f.closed = append(f.closed, code)
	}
	return f
}

func (f *fixture) join(nickname string, ch uuid.UUID) *models.Player {
	f.t.Helper()
	p, err := f.sess.AddPlayer(nickname, ch)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) joinBoth() {
	f.t.Helper()
	f.p1 = f.join("ada", f.ch1)
	f.p2 = f.join("grace", f.ch2)
}

func (f *fixture) waitPhase(want Phase) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		return f.sess.SnapshotNow().Phase == want
	}, waitFor, tick, "expected phase %s", want)
}

// startPlaying drives a fresh two-player session through the countdown.
func (f *fixture) startPlaying() {
	f.t.Helper()
	f.joinBoth()
	require.Equal(f.t, PhaseCountdown, f.sess.SnapshotNow().Phase)
	f.clock.Advance(f.sess.cfg.Countdown)
	f.waitPhase(PhasePlaying)
	f.waitRound()
}

func (f *fixture) waitRound() {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		return f.sess.SnapshotNow().Question != nil
	}, waitFor, tick, "expected an active round")
}

// roundInfo reads the live round's identity and expected answer.
func (f *fixture) roundInfo() (uuid.UUID, int) {
	f.t.Helper()
	f.sess.Mu.Lock()
	defer f.sess.Mu.Unlock()
	require.NotNil(f.t, f.sess.Round, "no active round")
	return f.sess.Round.ID, f.sess.Round.Expected
}

func (f *fixture) answerCorrect(ch uuid.UUID) {
	f.t.Helper()
	rid, expected := f.roundInfo()
	f.sess.HandleAnswer(ch, rid, float64(expected))
}

func TestLoneCreatorWaits(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.p1 = f.join("ada", f.ch1)

	snap := f.sess.SnapshotNow()
	assert.Equal(t, PhaseWaiting, snap.Phase)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "ada", snap.Players[0].Nickname)
	assert.Nil(t, snap.Question)
}

func TestSecondJoinStartsCountdown(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.joinBoth()

	snap := f.sess.SnapshotNow()
	assert.Equal(t, PhaseCountdown, snap.Phase)
	assert.Greater(t, snap.CountdownRemainingMs, int64(0))
	assert.Nil(t, snap.Question)
}

func TestThirdJoinRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.joinBoth()

	_, err := f.sess.AddPlayer("eve", uuid.New())
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.Len(t, f.sess.SnapshotNow().Players, 2)
}

func TestInvalidNicknameRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.sess.AddPlayer("   ", f.ch1)
	assert.ErrorIs(t, err, models.ErrInvalidNickname)
}

func TestCountdownEndsInPlayingWithRound(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()

	snap := f.sess.SnapshotNow()
	assert.Equal(t, PhasePlaying, snap.Phase)
	require.NotNil(t, snap.Question)
	assert.Regexp(t, `^\d+ × \d+$`, snap.Question.Prompt)
	assert.Zero(t, snap.CountdownRemainingMs)
}

func TestIncorrectThenCorrectAnswer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()
	rid, expected := f.roundInfo()

	f.sess.HandleAnswer(f.ch1, rid, float64(expected+1))
	fb := f.rec.lastFeedback(f.ch1)
	require.NotNil(t, fb)
	assert.True(t, fb.Accepted)
	assert.False(t, fb.IsCorrect)

	// A miss does not lock the player out of the round.
	f.sess.HandleAnswer(f.ch1, rid, float64(expected))
	fb = f.rec.lastFeedback(f.ch1)
	require.NotNil(t, fb)
	assert.True(t, fb.Accepted)
	assert.True(t, fb.IsCorrect)
}

func TestSecondCorrectFromSamePlayerIgnored(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()
	rid, expected := f.roundInfo()

	f.sess.HandleAnswer(f.ch1, rid, float64(expected))
	f.sess.HandleAnswer(f.ch1, rid, float64(expected))

	fb := f.rec.lastFeedback(f.ch1)
	require.NotNil(t, fb)
	assert.False(t, fb.Accepted)
}

func TestStaleRoundIDRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()

	f.sess.HandleAnswer(f.ch1, uuid.New(), 42)
	fb := f.rec.lastFeedback(f.ch1)
	require.NotNil(t, fb)
	assert.False(t, fb.Accepted)
}

func TestAnswerFromUnknownChannelDropped(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()
	rid, expected := f.roundInfo()

	stranger := uuid.New()
	f.sess.HandleAnswer(stranger, rid, float64(expected))
	assert.Nil(t, f.rec.lastFeedback(stranger))
}

func TestRoundResolvesToFirstCorrect(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()
	rid, _ := f.roundInfo()

	f.clock.Advance(100 * time.Millisecond)
	f.answerCorrect(f.ch1)
	// Second correct lands inside the contest window but later; the earlier
	// submission keeps the point.
	f.clock.Advance(5 * time.Millisecond)
	f.answerCorrect(f.ch2)

	f.clock.Advance(f.sess.cfg.ResolveDebounce)
	require.Eventually(t, func() bool {
		return f.rec.lastResolved(f.ch1) != nil
	}, waitFor, tick)

	res := f.rec.lastResolved(f.ch1)
	assert.Equal(t, rid, res.RoundID)
	assert.Equal(t, f.p1.ID, res.WinnerPlayerID)
	assert.Equal(t, 1, res.WinnerScore)

	require.Eventually(t, func() bool {
		snap := f.sess.SnapshotNow()
		return snap.Question == nil || snap.Question.RoundID != rid
	}, waitFor, tick)
}

func TestNextRoundStartsAfterDelay(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()
	first, _ := f.roundInfo()

	f.answerCorrect(f.ch1)
	f.clock.Advance(f.sess.cfg.ResolveDebounce)
	require.Eventually(t, func() bool {
		return f.rec.lastResolved(f.ch2) != nil
	}, waitFor, tick)

	f.clock.Advance(f.sess.cfg.NextRoundDelay)
	require.Eventually(t, func() bool {
		snap := f.sess.SnapshotNow()
		return snap.Question != nil && snap.Question.RoundID != first
	}, waitFor, tick)
	assert.Equal(t, PhasePlaying, f.sess.SnapshotNow().Phase)
}

func TestReachingTargetFinishesSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetScore = 1
	f := newFixture(t, cfg)
	f.startPlaying()

	f.answerCorrect(f.ch2)
	f.clock.Advance(cfg.ResolveDebounce)
	f.waitPhase(PhaseFinished)

	snap := f.sess.SnapshotNow()
	assert.Equal(t, f.p2.ID, snap.WinnerPlayerID)
	assert.Nil(t, snap.Question)
	for _, p := range snap.Players {
		if p.ID == f.p2.ID {
			assert.Equal(t, 1, p.Score)
		}
	}
}

func TestUnansweredRoundIsReplaced(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()
	first, _ := f.roundInfo()

	f.clock.Advance(f.sess.cfg.RoundTimeout)
	require.Eventually(t, func() bool {
		snap := f.sess.SnapshotNow()
		return snap.Question != nil && snap.Question.RoundID != first
	}, waitFor, tick)

	// Scores untouched by the swap.
	for _, p := range f.sess.SnapshotNow().Players {
		assert.Zero(t, p.Score)
	}
}

func TestDisconnectDuringPlayPausesAndDiscardsRound(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()

	f.sess.HandleDisconnect(f.ch2)
	snap := f.sess.SnapshotNow()
	assert.Equal(t, PhasePaused, snap.Phase)
	assert.Nil(t, snap.Question)
	assert.Greater(t, snap.DisconnectGraceRemainingMs, int64(0))
}

func TestDisconnectDuringCountdownPauses(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.joinBoth()

	f.sess.HandleDisconnect(f.ch1)
	snap := f.sess.SnapshotNow()
	assert.Equal(t, PhasePaused, snap.Phase)
	assert.Zero(t, snap.CountdownRemainingMs)

	// The abandoned countdown must not fire.
	f.clock.Advance(f.sess.cfg.Countdown)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, PhasePaused, f.sess.SnapshotNow().Phase)
}

func TestGraceExpiryForfeitsToConnectedPlayer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()

	f.sess.HandleDisconnect(f.ch2)
	f.clock.Advance(f.sess.cfg.DisconnectGrace)
	f.waitPhase(PhaseFinished)
	assert.Equal(t, f.p1.ID, f.sess.SnapshotNow().WinnerPlayerID)
}

func TestReconnectResumesViaCountdown(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()
	f.answerCorrect(f.ch1)
	f.clock.Advance(f.sess.cfg.ResolveDebounce)
	require.Eventually(t, func() bool {
		return f.rec.lastResolved(f.ch1) != nil
	}, waitFor, tick)

	f.sess.HandleDisconnect(f.ch2)
	f.waitPhase(PhasePaused)

	newCh := uuid.New()
	p, err := f.sess.Reconnect(f.p2.Token, newCh)
	require.NoError(t, err)
	assert.Equal(t, f.p2.ID, p.ID)

	snap := f.sess.SnapshotNow()
	assert.Equal(t, PhaseCountdown, snap.Phase)
	assert.Zero(t, snap.DisconnectGraceRemainingMs)
	// Score earned before the drop survives the pause.
	for _, ps := range snap.Players {
		if ps.ID == f.p1.ID {
			assert.Equal(t, 1, ps.Score)
		}
	}

	// The rebound channel is live for submissions again.
	f.clock.Advance(f.sess.cfg.Countdown)
	f.waitPhase(PhasePlaying)
	f.waitRound()
	f.answerCorrect(newCh)
	fb := f.rec.lastFeedback(newCh)
	require.NotNil(t, fb)
	assert.True(t, fb.IsCorrect)
}

func TestReconnectWithBadToken(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()
	f.sess.HandleDisconnect(f.ch2)

	_, err := f.sess.Reconnect("not-a-token", uuid.New())
	assert.ErrorIs(t, err, ErrBadToken)
	assert.Equal(t, PhasePaused, f.sess.SnapshotNow().Phase)
}

func TestStalePausedGraceDoesNotForfeitAfterResume(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()

	f.sess.HandleDisconnect(f.ch2)
	f.clock.Advance(f.sess.cfg.DisconnectGrace / 2)
	newCh := uuid.New()
	_, err := f.sess.Reconnect(f.p2.Token, newCh)
	require.NoError(t, err)
	f.waitPhase(PhaseCountdown)

	// Letting the original grace deadline pass must not end the game.
	f.clock.Advance(f.sess.cfg.DisconnectGrace)
	time.Sleep(20 * time.Millisecond)
	assert.NotEqual(t, PhaseFinished, f.sess.SnapshotNow().Phase)
}

func TestAbandonedSessionClosesAfterGrace(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.p1 = f.join("ada", f.ch1)

	f.sess.HandleDisconnect(f.ch1)
	f.clock.Advance(f.sess.cfg.DisconnectGrace)

	require.Eventually(t, func() bool {
		f.closedMu.Lock()
		defer f.closedMu.Unlock()
		return len(f.closed) == 1
	}, waitFor, tick)
	f.closedMu.Lock()
	assert.Equal(t, "AB2CD", f.closed[0])
	f.closedMu.Unlock()
}

func TestRematchNeedsBothVotes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetScore = 1
	f := newFixture(t, cfg)
	f.startPlaying()
	f.answerCorrect(f.ch1)
	f.clock.Advance(cfg.ResolveDebounce)
	f.waitPhase(PhaseFinished)

	f.sess.HandleRematchVote(f.ch1)
	snap := f.sess.SnapshotNow()
	assert.Equal(t, PhaseFinished, snap.Phase)
	assert.Equal(t, []uuid.UUID{f.p1.ID}, snap.RematchVotes)

	// Repeat votes do not count twice.
	f.sess.HandleRematchVote(f.ch1)
	assert.Equal(t, PhaseFinished, f.sess.SnapshotNow().Phase)

	f.sess.HandleRematchVote(f.ch2)
	snap = f.sess.SnapshotNow()
	assert.Equal(t, PhasePlaying, snap.Phase)
	assert.Equal(t, uuid.Nil, snap.WinnerPlayerID)
	assert.Empty(t, snap.RematchVotes)
	require.NotNil(t, snap.Question)
	for _, p := range snap.Players {
		assert.Zero(t, p.Score)
	}
}

func TestRematchVoteOutsideFinishedIgnored(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startPlaying()

	f.sess.HandleRematchVote(f.ch1)
	snap := f.sess.SnapshotNow()
	assert.Equal(t, PhasePlaying, snap.Phase)
	assert.Empty(t, snap.RematchVotes)
}

func TestSnapshotNeverLeaksTokens(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.joinBoth()

	snap := f.sess.SnapshotNow()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(data), f.p1.Token)
	assert.NotContains(t, string(data), f.p2.Token)
	assert.False(t, strings.Contains(string(data), "token"))
}
