package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tgfleet/tgfleet/internal/store"
)

// Registry holds the live sessions keyed by bot token.
type Registry struct {
	logger  *slog.Logger
	factory Factory

	mu       sync.RWMutex
	handler  Handler
	sessions map[string]Session
}

// NewRegistry creates an empty registry that opens sessions through factory.
func NewRegistry(logger *slog.Logger, factory Factory) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		logger:   logger.With("component", "registry"),
		factory:  factory,
		sessions: make(map[string]Session),
	}
}

// SetHandler installs the inbound message handler used for every session
// registered afterwards. It is called once during wiring, before any
// sessions are registered.
func (r *Registry) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Register opens an authenticated session for the token, installs the
// inbound handler, starts its receive loop, and holds it keyed by token.
// Registering a token that already has a live session replaces it; the old
// session is closed first.
func (r *Registry) Register(ctx context.Context, token, name string) (Session, error) {
	sess, err := r.factory(ctx, token, name)
	if err != nil {
		return nil, fmt.Errorf("register bot %q: %w", name, err)
	}

	r.mu.Lock()
	if old, ok := r.sessions[token]; ok {
		r.logger.Warn("replacing existing session", "bot", old.Name())
		old.Close()
	}
	sess.SetHandler(r.handler)
	r.sessions[token] = sess
	r.mu.Unlock()

	sess.Start(ctx)
	r.logger.Info("session registered", "bot", name)
	return sess, nil
}

// Unregister closes and drops the session for the token. The session's
// receive loop is cancelled; forwards already dispatched complete or fail on
// their own.
func (r *Registry) Unregister(token string) error {
	r.mu.Lock()
	sess, ok := r.sessions[token]
	if ok {
		delete(r.sessions, token)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	sess.Close()
	r.logger.Info("session unregistered", "bot", sess.Name())
	return nil
}

// Get returns the live session for the token, or ErrNotFound.
func (r *Registry) Get(token string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RestoreAll registers a session for every stored bot account. A token that
// fails to authenticate is logged and skipped; one bad credential must not
// keep the remaining bots from starting. Returns the number of sessions
// opened.
func (r *Registry) RestoreAll(ctx context.Context, bots map[string]store.BotAccount) int {
	restored := 0
	for token, account := range bots {
		if _, err := r.Register(ctx, token, account.Name); err != nil {
			r.logger.Error("failed to restore bot session", "bot", account.Name, "error", err)
			continue
		}
		restored++
	}
	r.logger.Info("bot sessions restored", "restored", restored, "configured", len(bots))
	return restored
}

// Close shuts down every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, sess := range r.sessions {
		sess.Close()
		delete(r.sessions, token)
	}
}
