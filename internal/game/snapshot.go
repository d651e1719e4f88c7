package game

import (
	"time"

	"github.com/google/uuid"
)

// PlayerSnapshot is the client-safe view of one player. The secret
// reconnection token is never included.
type PlayerSnapshot struct {
	ID        uuid.UUID `json:"id"`
	Nickname  string    `json:"nickname"`
	Score     int       `json:"score"`
	Connected bool      `json:"connected"`
}

// QuestionSnapshot is the public view of the current challenge.
type QuestionSnapshot struct {
	RoundID uuid.UUID `json:"roundId"`
	Prompt  string    `json:"prompt"`
}

// Snapshot is the redacted, time-relative session state broadcast to
// clients. Deadline fields are converted to remaining milliseconds floored
// at zero so clients need no clock agreement with the server.
type Snapshot struct {
	SessionCode                string            `json:"sessionCode"`
	Phase                      Phase             `json:"phase"`
	TargetScore                int               `json:"targetScore"`
	Players                    []PlayerSnapshot  `json:"players"`
	Question                   *QuestionSnapshot `json:"question,omitempty"`
	CountdownRemainingMs       int64             `json:"countdownRemainingMs"`
	DisconnectGraceRemainingMs int64             `json:"disconnectGraceRemainingMs"`
	WinnerPlayerID             uuid.UUID         `json:"winnerPlayerId"`
	RematchVotes               []uuid.UUID       `json:"rematchVotes"`
}

// SnapshotNow returns the current projection. Exported for the transport
// layer, which includes it in create/join/reconnect responses.
func (s *Session) SnapshotNow() Snapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked derives the projection from internal state. Recomputed on
// every call, never cached. Lock held by caller.
func (s *Session) snapshotLocked() Snapshot {
	now := s.clock.Now()
	snap := Snapshot{
		SessionCode:                s.Code,
		Phase:                      s.Phase,
		TargetScore:                s.cfg.TargetScore,
		Players:                    make([]PlayerSnapshot, len(s.Players)),
		CountdownRemainingMs:       remainingMs(now, s.CountdownEndsAt),
		DisconnectGraceRemainingMs: remainingMs(now, s.GraceDeadlineAt),
		WinnerPlayerID:             s.WinnerPlayerID,
		RematchVotes:               make([]uuid.UUID, 0, len(s.RematchVotes)),
	}
	for i, p := range s.Players {
		snap.Players[i] = PlayerSnapshot{
			ID:        p.ID,
			Nickname:  p.Nickname,
			Score:     s.Scores[p.ID],
			Connected: p.Connected,
		}
		// Join order keeps the vote list deterministic.
		if s.RematchVotes[p.ID] {
			snap.RematchVotes = append(snap.RematchVotes, p.ID)
		}
	}
	if s.Round != nil {
		snap.Question = &QuestionSnapshot{RoundID: s.Round.ID, Prompt: s.Round.Prompt()}
	}
	return snap
}

func remainingMs(now, deadline time.Time) int64 {
	if deadline.IsZero() {
		return 0
	}
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
