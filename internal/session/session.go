// Package session manages the live connection of every registered bot
// account. The Registry owns one authenticated Session per bot token and
// wires the inbound message handler into each session at registration time.
package session

import (
	"context"
	"errors"
)

var (
	// ErrAuth reports a bad or revoked bot credential. A session that fails
	// with ErrAuth is skipped; other sessions keep running.
	ErrAuth = errors.New("bot authorization failed")

	// ErrNotFound reports that no live session exists for a token.
	ErrNotFound = errors.New("session not found")
)

// Handler receives inbound messages from a session. The token identifies
// which bot session delivered the message.
type Handler interface {
	OnMessage(ctx context.Context, token string, msg *Message)
}

// Message is the platform-independent view of one inbound message, carrying
// the fields the router needs.
type Message struct {
	ID     int
	ChatID int64
	Text   string
	From   *Sender
}

// Sender identifies the account that produced a message.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Session is one live authenticated connection to a bot account.
//
// A session is created idle: SetHandler installs the inbound wiring, Start
// launches the receive loop, and Close cancels it. Outbound calls carry the
// session's configured timeout on top of the caller's context.
type Session interface {
	Token() string
	Name() string

	SetHandler(h Handler)
	Start(ctx context.Context)
	Close()

	SendMessage(ctx context.Context, chatID int64, text string) error
	ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) error
}

// Factory opens a new authenticated session for a bot token. It returns the
// session idle, before any inbound event can be delivered, so the Registry
// can install the handler first. Auth failures are reported as ErrAuth.
type Factory func(ctx context.Context, token, name string) (Session, error)
