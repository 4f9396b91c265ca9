// Package bot orchestrates the routing engine: it restores bot sessions and
// scheduled rules from the store and manages their lifecycle.
package bot

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tgfleet/tgfleet/internal/scheduler"
	"github.com/tgfleet/tgfleet/internal/session"
	"github.com/tgfleet/tgfleet/internal/store"
)

// Engine ties the session registry and the dispatch scheduler to the shared
// store and runs them until the context is cancelled.
type Engine struct {
	logger   *slog.Logger
	store    store.Store
	registry *session.Registry
	sched    *scheduler.Scheduler
}

// NewEngine creates the engine orchestrator.
func NewEngine(logger *slog.Logger, st store.Store, registry *session.Registry, sched *scheduler.Scheduler) *Engine {
	return &Engine{
		logger:   logger.With("component", "engine"),
		store:    st,
		registry: registry,
		sched:    sched,
	}
}

// Run restores sessions and fire rules from the store, starts the scheduler,
// and blocks until ctx is cancelled. Startup is best-effort throughout: a
// bot that fails to authenticate or a task that fails validation is logged
// and skipped, and the engine serves whatever did come up.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting engine")

	bots, err := e.store.Bots(ctx)
	if err != nil {
		e.logger.Warn("bots table unreadable, starting without sessions", "error", err)
	}
	e.registry.RestoreAll(ctx, bots)

	tasks, err := e.store.Tasks(ctx)
	if err != nil {
		e.logger.Warn("tasks table unreadable, starting without fire rules", "error", err)
	}
	e.sched.LoadRules(tasks)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.sched.Start()
		<-gCtx.Done()
		e.logger.Info("shutdown signal received, stopping scheduler")
		if err := e.sched.Stop(); err != nil {
			e.logger.Error("error stopping scheduler", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		e.logger.Info("shutdown signal received, closing sessions")
		e.registry.Close()
		return nil
	})

	e.logger.Info("engine running", "sessions", e.registry.Len(), "rules", e.sched.Len())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("engine stopped with error", "error", err)
		return err
	}
	e.logger.Info("engine stopped gracefully")
	return nil
}
