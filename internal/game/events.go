package game

import "github.com/google/uuid"

// EventType represents the type of a session event pushed to clients.
type EventType string

const (
	// EventState carries the full redacted session snapshot. It is emitted
	// after every observable state mutation.
	EventState EventType = "state"
	// EventAnswerFeedback is the private acknowledgement for one answer.
	EventAnswerFeedback EventType = "answer_feedback"
	// EventRoundResolved announces the round winner to both players.
	EventRoundResolved EventType = "round_resolved"
)

// AnswerFeedback acknowledges a submitted answer. Rejections are routine
// outcomes of network races, not failures.
type AnswerFeedback struct {
	Accepted  bool   `json:"accepted"`
	IsCorrect bool   `json:"isCorrect"`
	Message   string `json:"message,omitempty"`
}

// RoundResult is the public payload of a resolved round.
type RoundResult struct {
	RoundID        uuid.UUID `json:"roundId"`
	WinnerPlayerID uuid.UUID `json:"winnerPlayerId"`
	WinnerScore    int       `json:"winnerScore"`
	CorrectAnswer  int       `json:"correctAnswer"`
}

// Event is the standard structure for pushing session changes to clients.
// Exactly one of the optional fields is set, matching Type.
type Event struct {
	Type     EventType       `json:"type"`
	State    *Snapshot       `json:"state,omitempty"`
	Feedback *AnswerFeedback `json:"feedback,omitempty"`
	Resolved *RoundResult    `json:"resolved,omitempty"`
}

// SendFunc delivers an event to a single transport channel. It must not
// block; the session invokes it with its lock held.
type SendFunc func(channelID uuid.UUID, ev Event)

// OnClosedFunc is executed when a session deletes itself (disconnect grace
// expired with nobody connected).
type OnClosedFunc func(code string)
