// Package scheduler fires scheduled message dispatches using the gocron
// library. Each rule sends one fixed message to one chat through one bot
// session at a fixed wall-clock time every day.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tgfleet/tgfleet/internal/session"
	"github.com/tgfleet/tgfleet/internal/store"
)

// SessionProvider resolves a bot token to its live session at fire time.
type SessionProvider interface {
	Get(token string) (session.Session, error)
}

type rule struct {
	task  store.ScheduledTask
	jobID uuid.UUID
}

// Scheduler maintains one daily fire rule per scheduled task. Rules can be
// added and removed while the scheduler is running, so admin edits reach the
// live schedule without a restart.
type Scheduler struct {
	logger   *slog.Logger
	sessions SessionProvider
	sched    gocron.Scheduler
	validate *validator.Validate

	mu      sync.Mutex
	rules   []rule
	running bool
}

// Option configures a Scheduler.
type Option func(*schedulerOptions)

type schedulerOptions struct {
	location *time.Location
	clock    clockwork.Clock
}

// WithLocation sets the timezone rules fire in. Defaults to local time,
// matching the wall-clock semantics of the task table.
func WithLocation(loc *time.Location) Option {
	return func(o *schedulerOptions) { o.location = loc }
}

// WithClock substitutes the clock driving the schedule. Used by tests with a
// fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *schedulerOptions) { o.clock = clock }
}

// New creates a stopped scheduler. Call LoadRules and Start to begin firing.
func New(logger *slog.Logger, sessions SessionProvider, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	o := schedulerOptions{location: time.Local}
	for _, opt := range opts {
		opt(&o)
	}

	gopts := []gocron.SchedulerOption{gocron.WithLocation(o.location)}
	if o.clock != nil {
		gopts = append(gopts, gocron.WithClock(o.clock))
	}

	s, err := gocron.NewScheduler(gopts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Scheduler{
		logger:   logger.With("component", "scheduler"),
		sessions: sessions,
		sched:    s,
		validate: validator.New(),
	}, nil
}

// Start begins firing rules. Rules whose time already passed today fire
// tomorrow.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.sched.Start()
	s.running = true
	s.logger.Info("scheduler started", "rules", len(s.rules))
}

// Stop shuts the scheduler down, waiting for in-flight dispatches.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// LoadRules installs a fire rule for every task in the stored sequence. A
// task that fails validation is logged and skipped; the rest still load.
// Returns the number of rules installed.
func (s *Scheduler) LoadRules(tasks []store.ScheduledTask) int {
	loaded := 0
	for i, task := range tasks {
		if err := s.AddRule(task); err != nil {
			s.logger.Error("failed to load scheduled task", "index", i, "error", err)
			continue
		}
		loaded++
	}
	s.logger.Info("scheduled tasks loaded", "loaded", loaded, "configured", len(tasks))
	return loaded
}

// AddRule installs one daily fire rule for the task. Works before and after
// Start.
func (s *Scheduler) AddRule(task store.ScheduledTask) error {
	if err := s.validate.Struct(task); err != nil {
		return fmt.Errorf("invalid scheduled task: %w", err)
	}

	name := task.ID
	if name == "" {
		name = fmt.Sprintf("task@%02d:%02d", task.Hour, task.Minute)
	}

	cronExpr := fmt.Sprintf("%d %d * * *", task.Minute, task.Hour)
	job, err := s.sched.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() { s.dispatch(task) }),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule task %q: %w", name, err)
	}

	s.mu.Lock()
	s.rules = append(s.rules, rule{task: task, jobID: job.ID()})
	s.mu.Unlock()

	s.logger.Info("fire rule installed",
		"task", name,
		"hour", task.Hour,
		"minute", task.Minute,
		"chat_id", task.ChatID)
	return nil
}

// RemoveRuleByTask drops the first rule whose task matches on bot token,
// chat, fire time, and message. Rule positions do not mirror the stored task
// sequence (invalid tasks are skipped at load), so legacy tasks without a
// stable id are resolved by content instead of by index.
func (s *Scheduler) RemoveRuleByTask(task store.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rules {
		if r.task.BotToken == task.BotToken &&
			r.task.ChatID == task.ChatID &&
			r.task.Hour == task.Hour &&
			r.task.Minute == task.Minute &&
			r.task.Message == task.Message {
			return s.removeLocked(i)
		}
	}
	return fmt.Errorf("no rule firing %02d:%02d for chat %d", task.Hour, task.Minute, task.ChatID)
}

// RemoveRuleByID drops the rule whose task carries the given stable id.
func (s *Scheduler) RemoveRuleByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rules {
		if r.task.ID != "" && r.task.ID == id {
			return s.removeLocked(i)
		}
	}
	return fmt.Errorf("no rule with task id %q", id)
}

func (s *Scheduler) removeLocked(index int) error {
	r := s.rules[index]
	if err := s.sched.RemoveJob(r.jobID); err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	s.rules = append(s.rules[:index], s.rules[index+1:]...)
	s.logger.Info("fire rule removed", "hour", r.task.Hour, "minute", r.task.Minute, "chat_id", r.task.ChatID)
	return nil
}

// Len reports the number of installed rules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// dispatch fires one rule: look up the owning session and send the message.
// A task whose bot is gone is a logged no-op; send failures are logged with
// no retry. Nothing here may take the process down.
func (s *Scheduler) dispatch(task store.ScheduledTask) {
	sess, err := s.sessions.Get(task.BotToken)
	if err != nil {
		s.logger.Error("scheduled dispatch skipped",
			"chat_id", task.ChatID,
			"error", err)
		return
	}

	if err := sess.SendMessage(context.Background(), task.ChatID, task.Message); err != nil {
		s.logger.Error("scheduled dispatch failed",
			"bot", sess.Name(),
			"chat_id", task.ChatID,
			"error", err)
		return
	}

	s.logger.Info("scheduled message sent",
		"bot", sess.Name(),
		"chat_id", task.ChatID,
		"message_preview", preview(task.Message))
}

func preview(s string) string {
	const maxLen = 20
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
