package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Gandolfi-G/duel-dot/internal/game"
	"github.com/Gandolfi-G/duel-dot/internal/models"
	"github.com/Gandolfi-G/duel-dot/internal/registry"
)

// Handler accepts WebSocket connections and dispatches their messages to
// the session layer.
type Handler struct {
	reg            *registry.Registry
	hub            *Hub
	originPatterns []string
}

// NewHandler wires a handler to the registry and hub. originPatterns is
// passed through to the WebSocket accept check.
func NewHandler(reg *registry.Registry, hub *Hub, originPatterns []string) *Handler {
	return &Handler{reg: reg, hub: hub, originPatterns: originPatterns}
}

// ServeWS upgrades the request and runs the connection until it drops.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		logrus.WithError(err).Warn("websocket accept failed")
		return
	}

	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
	h.hub.add(c)
	logrus.WithField("channel", c.id).Debug("connection opened")

	ctx := r.Context()
	go c.writePump(ctx)
	h.readLoop(ctx, c)
}

// readLoop consumes client messages until the connection errors out, then
// reports the disconnect to the bound session.
func (h *Handler) readLoop(ctx context.Context, c *client) {
	defer func() {
		h.hub.remove(c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
		if c.session != nil {
			c.session.HandleDisconnect(c.id)
		}
		logrus.WithField("channel", c.id).Debug("connection closed")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		h.dispatch(c, data)
	}
}

// dispatch routes one inbound envelope. Malformed or unknown messages are
// dropped; the client protocol has no request IDs to attach errors to.
func (h *Handler) dispatch(c *client, data []byte) {
	var msg Message
	if err := unmarshalStrictEnvelope(data, &msg); err != nil {
		logrus.WithField("channel", c.id).Debug("dropping malformed envelope")
		return
	}
	switch msg.Type {
	case MsgCreate:
		h.handleCreate(c, msg.Payload)
	case MsgJoin:
		h.handleJoin(c, msg.Payload)
	case MsgReconnect:
		h.handleReconnect(c, msg.Payload)
	case MsgAnswer:
		h.handleAnswer(c, msg.Payload)
	case MsgRematch:
		h.handleRematch(c, msg.Payload)
	default:
		logrus.WithFields(logrus.Fields{"channel": c.id, "type": msg.Type}).Debug("dropping unknown message type")
	}
}

func (h *Handler) handleCreate(c *client, payload []byte) {
	if c.session != nil {
		c.sendError(ErrCodeBadRequest, "channel already bound to a session")
		return
	}
	var req CreateRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		c.sendError(ErrCodeBadRequest, "malformed create payload")
		return
	}

	sess := h.reg.Create()
	p, err := sess.AddPlayer(req.Nickname, c.id)
	if err != nil {
		h.reg.Remove(sess.Code)
		c.sendError(errCode(err), err.Error())
		return
	}
	c.session = sess
	c.sendGrant(MsgCreated, sess, p)
}

func (h *Handler) handleJoin(c *client, payload []byte) {
	if c.session != nil {
		c.sendError(ErrCodeBadRequest, "channel already bound to a session")
		return
	}
	var req JoinRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		c.sendError(ErrCodeBadRequest, "malformed join payload")
		return
	}

	sess, err := h.reg.Get(req.SessionCode)
	if err != nil {
		c.sendError(errCode(err), err.Error())
		return
	}
	p, err := sess.AddPlayer(req.Nickname, c.id)
	if err != nil {
		c.sendError(errCode(err), err.Error())
		return
	}
	c.session = sess
	c.sendGrant(MsgJoined, sess, p)
}

func (h *Handler) handleReconnect(c *client, payload []byte) {
	if c.session != nil {
		c.sendError(ErrCodeBadRequest, "channel already bound to a session")
		return
	}
	var req ReconnectRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		c.sendError(ErrCodeBadRequest, "malformed reconnect payload")
		return
	}

	sess, err := h.reg.Get(req.SessionCode)
	if err != nil {
		c.sendError(errCode(err), err.Error())
		return
	}
	p, err := sess.Reconnect(req.PlayerToken, c.id)
	if err != nil {
		c.sendError(errCode(err), err.Error())
		return
	}
	c.session = sess
	c.sendGrant(MsgReconnected, sess, p)
}

// handleAnswer forwards a submission. Unbound channels and code mismatches
// are dropped, matching the fire-and-forget contract; everything past the
// binding check is answered with pushed feedback instead.
func (h *Handler) handleAnswer(c *client, payload []byte) {
	if c.session == nil {
		return
	}
	var req AnswerRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		return
	}
	if !strings.EqualFold(strings.TrimSpace(req.SessionCode), c.session.Code) {
		return
	}
	// An unparseable round ID never matches the live round, so the session
	// reports it as stale.
	rid, _ := uuid.Parse(req.RoundID)
	c.session.HandleAnswer(c.id, rid, req.Answer)
}

func (h *Handler) handleRematch(c *client, payload []byte) {
	if c.session == nil {
		return
	}
	var req RematchRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		return
	}
	if !strings.EqualFold(strings.TrimSpace(req.SessionCode), c.session.Code) {
		return
	}
	c.session.HandleRematchVote(c.id)
}

// sendGrant replies with the session credentials plus a fresh snapshot.
func (c *client) sendGrant(mt MessageType, sess *game.Session, p *models.Player) {
	snap := sess.SnapshotNow()
	data, err := encodeMessage(mt, SessionGrant{
		SessionCode: sess.Code,
		PlayerID:    p.ID,
		PlayerToken: p.Token,
		State:       &snap,
	})
	if err != nil {
		logrus.WithError(err).Error("failed encoding session grant")
		return
	}
	c.enqueue(data)
}

func (c *client) sendError(code, message string) {
	data, err := encodeMessage(MsgError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// errCode maps session/registry errors to wire error codes.
func errCode(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidNickname):
		return ErrCodeInvalidNickname
	case errors.Is(err, registry.ErrSessionNotFound):
		return ErrCodeSessionNotFound
	case errors.Is(err, game.ErrSessionFull):
		return ErrCodeSessionFull
	case errors.Is(err, game.ErrBadToken):
		return ErrCodeBadToken
	}
	return ErrCodeBadRequest
}
