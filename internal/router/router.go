// Package router evaluates every inbound message against the keyword table
// and either answers the reserved settlement query or forwards the message
// to the configured destination groups.
package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tgfleet/tgfleet/internal/session"
	"github.com/tgfleet/tgfleet/internal/settlement"
	"github.com/tgfleet/tgfleet/internal/store"
)

// SessionProvider resolves a bot token to its live session.
type SessionProvider interface {
	Get(token string) (session.Session, error)
}

// Router implements session.Handler. One Router serves all bot sessions; the
// keyword table is re-read from the store for every message so admin edits
// take effect immediately.
type Router struct {
	store             store.Store
	sessions          SessionProvider
	responder         *settlement.Responder
	logger            *slog.Logger
	settlementKeyword string
}

// New creates a Router over the shared store and session registry.
func New(
	st store.Store,
	sessions SessionProvider,
	responder *settlement.Responder,
	logger *slog.Logger,
	settlementKeyword string,
) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		store:             st,
		sessions:          sessions,
		responder:         responder,
		logger:            logger.With("component", "router"),
		settlementKeyword: settlementKeyword,
	}
}

// OnMessage handles one inbound message from the session identified by
// token. The sender is recorded first; messages without a text body are
// dropped after that. The first keyword (in table order) contained in the
// text decides the outcome: the reserved settlement keyword triggers a
// settlement reply, any other keyword forwards the message to each of its
// destination groups independently. Only one rule ever fires per message; a
// message matching no keyword is silently dropped.
func (r *Router) OnMessage(ctx context.Context, token string, msg *session.Message) {
	if msg == nil {
		return
	}

	r.recordSender(ctx, msg)

	if msg.Text == "" {
		return
	}

	// The reserved keyword takes precedence over every forwarding rule: a
	// settlement query is always answered, never forwarded, no matter where
	// the keyword sits in the table.
	if r.settlementKeyword != "" && strings.Contains(msg.Text, r.settlementKeyword) {
		r.respondSettlement(ctx, token, msg)
		return
	}

	keywords, err := r.store.Keywords(ctx)
	if err != nil {
		// Empty table fallback: routing degrades to a no-op instead of
		// taking the session down.
		r.logger.Warn("keyword table unreadable, skipping match", "error", err)
		return
	}

	rule, ok := keywords.Match(msg.Text)
	if !ok || rule.Keyword == r.settlementKeyword {
		return
	}

	sess, err := r.sessions.Get(token)
	if err != nil {
		r.logger.Error("no session for inbound message", "error", err)
		return
	}

	r.forward(ctx, sess, rule, msg)
}

// respondSettlement answers a settlement query on the session the message
// arrived on. A backend failure is surfaced to the user as the configured
// error text, never as silence.
func (r *Router) respondSettlement(ctx context.Context, token string, msg *session.Message) {
	sess, err := r.sessions.Get(token)
	if err != nil {
		r.logger.Error("no session for settlement query", "error", err)
		return
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	if err := r.responder.Respond(ctx, sess, msg.ChatID, userID); err != nil {
		r.logger.Error("settlement response failed", "chat_id", msg.ChatID, "error", err)
	}
}

// recordSender upserts the message sender into the users table. The write is
// idempotent on user id; failures are logged and do not stop routing.
func (r *Router) recordSender(ctx context.Context, msg *session.Message) {
	if msg.From == nil {
		return
	}

	created, err := r.store.UpsertUser(ctx, store.User{
		ID:        msg.From.ID,
		Username:  msg.From.Username,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
		JoinedAt:  time.Now(),
	})
	if err != nil {
		r.logger.Error("failed to record user", "user_id", msg.From.ID, "error", err)
		return
	}
	if created {
		r.logger.Info("new user recorded", "user_id", msg.From.ID, "username", msg.From.Username)
	}
}

// forward sends the original message to every destination of the rule. Each
// destination is attempted independently: a failure is logged and the
// remaining destinations still receive the message. No retry, no rollback.
func (r *Router) forward(ctx context.Context, sess session.Session, rule store.KeywordRule, msg *session.Message) {
	delivered := 0
	for _, target := range rule.Targets {
		if err := sess.ForwardMessage(ctx, target, msg.ChatID, msg.ID); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("forward failed",
				"keyword", rule.Keyword,
				"from_chat", msg.ChatID,
				"to_chat", target,
				"error", err)
			continue
		}
		delivered++
		r.logger.Info("message forwarded",
			"keyword", rule.Keyword,
			"from_chat", msg.ChatID,
			"to_chat", target)
	}

	if delivered < len(rule.Targets) {
		r.logger.Warn("partial forward delivery",
			"keyword", rule.Keyword,
			"delivered", delivered,
			"targets", len(rule.Targets))
	}
}
