// Package settlement answers the reserved settlement-query keyword with a
// balance summary for the requesting user.
package settlement

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tgfleet/tgfleet/internal/session"
)

// Service computes or looks up a settlement summary for a user. The real
// backend is an external billing system; StaticService stands in for it.
type Service interface {
	Summary(ctx context.Context, userID int64) (string, error)
}

// StaticService returns a canned settlement summary. Placeholder until the
// billing backend is integrated.
type StaticService struct{}

// Summary returns the canned balance text.
func (StaticService) Summary(_ context.Context, _ int64) (string, error) {
	summary := "您的待结算余额为: ¥1,234.56\n" +
		"上次结算日期: 2023-05-15\n" +
		"结算周期: 2023-05-01至2023-05-15"
	return summary, nil
}

// Responder sends settlement summaries back on the chat the query came from.
// Backend failures produce a user-visible error reply instead of silence,
// and never propagate into the router.
type Responder struct {
	svc      Service
	logger   *slog.Logger
	errorMsg string
}

// NewResponder wires a Responder to a settlement backend. errorMsg is the
// reply sent when the backend fails.
func NewResponder(svc Service, logger *slog.Logger, errorMsg string) *Responder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Responder{
		svc:      svc,
		logger:   logger.With("component", "settlement"),
		errorMsg: errorMsg,
	}
}

// Respond answers a settlement query from userID on chatID through the given
// session. The returned error reports the underlying failure after the user
// has been notified; callers log it and move on.
func (r *Responder) Respond(ctx context.Context, sess session.Session, chatID, userID int64) error {
	summary, err := r.svc.Summary(ctx, userID)
	if err != nil {
		r.logger.Error("settlement lookup failed", "user_id", userID, "error", err)
		if sendErr := sess.SendMessage(ctx, chatID, r.errorMsg); sendErr != nil {
			r.logger.Error("failed to send settlement error reply", "chat_id", chatID, "error", sendErr)
		}
		return fmt.Errorf("settlement lookup for user %d: %w", userID, err)
	}

	if err := sess.SendMessage(ctx, chatID, summary); err != nil {
		r.logger.Error("failed to send settlement reply", "chat_id", chatID, "error", err)
		return fmt.Errorf("send settlement reply: %w", err)
	}

	r.logger.Info("settlement query answered", "user_id", userID, "chat_id", chatID)
	return nil
}
