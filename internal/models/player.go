// Package models holds the session-facing domain records shared between
// the game core and the transport layer.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxNicknameLen bounds the trimmed nickname length.
const MaxNicknameLen = 20

// ErrInvalidNickname is returned for empty or over-long nicknames.
var ErrInvalidNickname = errors.New("invalid nickname")

// Player is one participant of a duel session. The record is created on
// create/join and never deleted; reconnection rebinds the same record to a
// new transport channel.
type Player struct {
	ID       uuid.UUID
	Nickname string

	// Token is the secret reconnection credential. It is matched by exact
	// equality and never broadcast to clients.
	Token string

	Connected bool

	// ChannelID identifies the transport channel currently bound to this
	// player; uuid.Nil while disconnected.
	ChannelID uuid.UUID
}

// NewPlayer mints a player with a fresh id and reconnection token.
func NewPlayer(nickname string, channelID uuid.UUID) *Player {
	return &Player{
		ID:        uuid.New(),
		Nickname:  nickname,
		Token:     newToken(),
		Connected: true,
		ChannelID: channelID,
	}
}

// SanitizeNickname trims surrounding whitespace and validates the result.
func SanitizeNickname(raw string) (string, error) {
	nick := strings.TrimSpace(raw)
	if nick == "" || utf8.RuneCountInString(nick) > MaxNicknameLen {
		return "", ErrInvalidNickname
	}
	return nick, nil
}

// newToken returns 32 hex chars of OS randomness. The token is an opaque
// equality-checked secret, so no structure beyond entropy is needed.
func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// uuid rather than handing out a predictable credential.
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
