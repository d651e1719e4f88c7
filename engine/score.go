package engine

import "github.com/google/uuid"

// TargetScore is the score a player must reach to win the duel.
const TargetScore = 15

// Scoreboard maps player ids to their current score. Its key set always
// equals the session's player id set.
type Scoreboard map[uuid.UUID]int

// NewScoreboard returns a scoreboard with every given player at zero.
func NewScoreboard(playerIDs ...uuid.UUID) Scoreboard {
	s := make(Scoreboard, len(playerIDs))
	for _, id := range playerIDs {
		s[id] = 0
	}
	return s
}

// Clone returns an independent copy.
func (s Scoreboard) Clone() Scoreboard {
	out := make(Scoreboard, len(s))
	for id, score := range s {
		out[id] = score
	}
	return out
}

// AwardPoint returns a new scoreboard with exactly playerID's score
// incremented by one, leaving the receiver untouched. The second return is
// true iff the incremented score reaches target, declaring the duel winner.
func (s Scoreboard) AwardPoint(playerID uuid.UUID, target int) (Scoreboard, bool) {
	out := s.Clone()
	out[playerID]++
	return out, out[playerID] >= target
}

// Reset returns a new scoreboard with the same players all back at zero.
func (s Scoreboard) Reset() Scoreboard {
	out := make(Scoreboard, len(s))
	for id := range s {
		out[id] = 0
	}
	return out
}
