package ws

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Gandolfi-G/duel-dot/internal/game"
)

// MessageType defines the type of a WebSocket message.
type MessageType string

// Client request types.
const (
	MsgCreate    MessageType = "create"
	MsgJoin      MessageType = "join"
	MsgReconnect MessageType = "reconnect"
	MsgAnswer    MessageType = "answer"
	MsgRematch   MessageType = "rematch"
)

// Server message types.
const (
	MsgCreated        MessageType = "created"
	MsgJoined         MessageType = "joined"
	MsgReconnected    MessageType = "reconnected"
	MsgError          MessageType = "error"
	MsgState          MessageType = "state"
	MsgAnswerFeedback MessageType = "answer_feedback"
	MsgRoundResolved  MessageType = "round_resolved"
)

// Message is the WebSocket envelope format, both directions.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateRequest opens a new session.
type CreateRequest struct {
	Nickname string `json:"nickname"`
}

// JoinRequest joins an existing session by its public code.
type JoinRequest struct {
	SessionCode string `json:"sessionCode"`
	Nickname    string `json:"nickname"`
}

// ReconnectRequest rebinds a player using their secret token.
type ReconnectRequest struct {
	SessionCode string `json:"sessionCode"`
	PlayerToken string `json:"playerToken"`
}

// AnswerRequest submits an answer for a specific round. Fire-and-forget;
// the server pushes answer_feedback.
type AnswerRequest struct {
	SessionCode string  `json:"sessionCode"`
	RoundID     string  `json:"roundId"`
	Answer      float64 `json:"answer"`
}

// RematchRequest votes for a rematch. Fire-and-forget.
type RematchRequest struct {
	SessionCode string `json:"sessionCode"`
}

// SessionGrant is the successful response to create/join/reconnect. It is
// the only message that ever carries the player token.
type SessionGrant struct {
	SessionCode string         `json:"sessionCode"`
	PlayerID    uuid.UUID      `json:"playerId"`
	PlayerToken string         `json:"playerToken"`
	State       *game.Snapshot `json:"state"`
}

// ErrorPayload is the synchronous rejection response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Request-rejection error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeInvalidNickname = "invalid_nickname"
	ErrCodeSessionNotFound = "session_not_found"
	ErrCodeSessionFull     = "session_full"
	ErrCodeBadToken        = "bad_token"
)

// unmarshalStrictEnvelope decodes an envelope and rejects ones with no
// type discriminator.
func unmarshalStrictEnvelope(data []byte, msg *Message) error {
	if err := json.Unmarshal(data, msg); err != nil {
		return err
	}
	if msg.Type == "" {
		return fmt.Errorf("envelope missing type")
	}
	return nil
}

// unmarshalPayload decodes a request payload; an absent payload is an
// error, requests always carry one.
func unmarshalPayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(data, v)
}

// encodeMessage marshals an envelope with the given typed payload.
func encodeMessage(mt MessageType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: mt, Payload: raw})
}

// encodeEvent converts a session push event into wire bytes.
func encodeEvent(ev game.Event) ([]byte, error) {
	switch ev.Type {
	case game.EventState:
		return encodeMessage(MsgState, ev.State)
	case game.EventAnswerFeedback:
		return encodeMessage(MsgAnswerFeedback, ev.Feedback)
	case game.EventRoundResolved:
		return encodeMessage(MsgRoundResolved, ev.Resolved)
	}
	return nil, fmt.Errorf("unknown event type %q", ev.Type)
}
