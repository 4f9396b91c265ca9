// Package admin exposes the operator surface: bot, keyword, and scheduled
// task management over the shared store, kept in sync with the live session
// registry and scheduler when the engine runs in the same process.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tgfleet/tgfleet/internal/session"
	"github.com/tgfleet/tgfleet/internal/store"
)

var (
	// ErrNotFound reports that the addressed bot, keyword, device, or task is
	// not in the store.
	ErrNotFound = errors.New("admin: not found")

	// ErrInvalid reports rejected input. The HTTP layer maps it to a client
	// error, as opposed to failures talking to the platform.
	ErrInvalid = errors.New("admin: invalid input")
)

// BotRegistrar is the live-session side of bot add/remove. Satisfied by
// *session.Registry.
type BotRegistrar interface {
	Register(ctx context.Context, token, name string) (session.Session, error)
	Unregister(token string) error
	Len() int
}

// RuleScheduler is the live side of task add/remove. Satisfied by
// *scheduler.Scheduler.
type RuleScheduler interface {
	AddRule(task store.ScheduledTask) error
	RemoveRuleByID(id string) error
	RemoveRuleByTask(task store.ScheduledTask) error
}

// Service implements the admin operations. registrar and sched may be nil
// when the admin surface runs without the engine (separate-process
// deployment); mutations then only touch the store and the engine picks
// them up at its next start.
type Service struct {
	store     store.Store
	registrar BotRegistrar
	sched     RuleScheduler
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewService wires the admin operations over the shared store.
func NewService(st store.Store, registrar BotRegistrar, sched RuleScheduler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:     st,
		registrar: registrar,
		sched:     sched,
		logger:    logger.With("component", "admin"),
		validate:  validator.New(),
	}
}

// Stats summarizes table sizes and live sessions for the dashboard.
type Stats struct {
	BotCount     int `json:"bot_count"`
	UserCount    int `json:"user_count"`
	KeywordCount int `json:"keyword_count"`
	DeviceCount  int `json:"device_count"`
	TaskCount    int `json:"task_count"`
	LiveSessions int `json:"live_sessions"`
}

// Stats reads current table sizes. Unreadable tables count as empty.
func (s *Service) Stats(ctx context.Context) Stats {
	bots, _ := s.store.Bots(ctx)
	users, _ := s.store.Users(ctx)
	keywords, _ := s.store.Keywords(ctx)
	devices, _ := s.store.Devices(ctx)
	tasks, _ := s.store.Tasks(ctx)

	st := Stats{
		BotCount:     len(bots),
		UserCount:    len(users),
		KeywordCount: keywords.Len(),
		DeviceCount:  len(devices),
		TaskCount:    len(tasks),
	}
	if s.registrar != nil {
		st.LiveSessions = s.registrar.Len()
	}
	return st
}

// ListBots returns the stored bot accounts keyed by token.
func (s *Service) ListBots(ctx context.Context) (map[string]store.BotAccount, error) {
	return s.store.Bots(ctx)
}

// AddBot stores a bot account and opens its live session. The record is
// persisted even when the session fails to open, so a transient platform
// outage does not lose the registration; the returned error still reports
// the failure.
func (s *Service) AddBot(ctx context.Context, token, name string) error {
	if token == "" || name == "" {
		return fmt.Errorf("%w: bot token and name are required", ErrInvalid)
	}

	bots, err := s.store.Bots(ctx)
	if err != nil {
		s.logger.Warn("bots table unreadable, starting empty", "error", err)
	}
	bots[token] = store.BotAccount{Name: name, AddedAt: time.Now()}
	if err := s.store.SaveBots(ctx, bots); err != nil {
		return fmt.Errorf("save bots: %w", err)
	}
	s.logger.Info("bot added", "name", name)

	if s.registrar != nil {
		if _, err := s.registrar.Register(ctx, token, name); err != nil {
			return fmt.Errorf("bot stored but session failed to open: %w", err)
		}
	}
	return nil
}

// RemoveBot deletes a bot account and tears down its live session.
func (s *Service) RemoveBot(ctx context.Context, token string) error {
	bots, err := s.store.Bots(ctx)
	if err != nil {
		return fmt.Errorf("load bots: %w", err)
	}
	account, ok := bots[token]
	if !ok {
		return fmt.Errorf("%w: bot", ErrNotFound)
	}
	delete(bots, token)
	if err := s.store.SaveBots(ctx, bots); err != nil {
		return fmt.Errorf("save bots: %w", err)
	}
	s.logger.Info("bot removed", "name", account.Name)

	if s.registrar != nil {
		if err := s.registrar.Unregister(token); err != nil && !errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("bot removed but session teardown failed: %w", err)
		}
	}
	return nil
}

// ListUsers returns the observed users keyed by id.
func (s *Service) ListUsers(ctx context.Context) (map[int64]store.User, error) {
	return s.store.Users(ctx)
}

// ListKeywords returns the keyword rules in table order.
func (s *Service) ListKeywords(ctx context.Context) ([]store.KeywordRule, error) {
	table, err := s.store.Keywords(ctx)
	if err != nil {
		return nil, err
	}
	return table.Rules(), nil
}

// AddKeyword creates or replaces a keyword rule. A new keyword is appended
// at the end of the table, so it is evaluated after all existing rules.
func (s *Service) AddKeyword(ctx context.Context, keyword string, targets []int64) error {
	if keyword == "" {
		return fmt.Errorf("keyword is required")
	}
	if len(targets) == 0 {
		return fmt.Errorf("at least one destination chat is required")
	}

	table, err := s.store.Keywords(ctx)
	if err != nil {
		s.logger.Warn("keywords table unreadable, starting empty", "error", err)
	}
	table.Set(keyword, targets)
	if err := s.store.SaveKeywords(ctx, table); err != nil {
		return fmt.Errorf("save keywords: %w", err)
	}
	s.logger.Info("keyword rule saved", "keyword", keyword, "targets", len(targets))
	return nil
}

// RemoveKeyword deletes a keyword rule.
func (s *Service) RemoveKeyword(ctx context.Context, keyword string) error {
	table, err := s.store.Keywords(ctx)
	if err != nil {
		return fmt.Errorf("load keywords: %w", err)
	}
	if !table.Delete(keyword) {
		return fmt.Errorf("%w: keyword", ErrNotFound)
	}
	if err := s.store.SaveKeywords(ctx, table); err != nil {
		return fmt.Errorf("save keywords: %w", err)
	}
	s.logger.Info("keyword rule removed", "keyword", keyword)
	return nil
}

// ListDevices returns the managed devices keyed by device id.
func (s *Service) ListDevices(ctx context.Context) (map[string]store.Device, error) {
	return s.store.Devices(ctx)
}

// AddDevice creates or replaces a device record under the operator-supplied
// id.
func (s *Service) AddDevice(ctx context.Context, id, name, description string) error {
	if id == "" || name == "" {
		return fmt.Errorf("%w: device id and name are required", ErrInvalid)
	}

	devices, err := s.store.Devices(ctx)
	if err != nil {
		s.logger.Warn("devices table unreadable, starting empty", "error", err)
	}
	devices[id] = store.Device{Name: name, Description: description, AddedAt: time.Now()}
	if err := s.store.SaveDevices(ctx, devices); err != nil {
		return fmt.Errorf("save devices: %w", err)
	}
	s.logger.Info("device added", "device_id", id, "name", name)
	return nil
}

// RemoveDevice deletes a device record.
func (s *Service) RemoveDevice(ctx context.Context, id string) error {
	devices, err := s.store.Devices(ctx)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	if _, ok := devices[id]; !ok {
		return fmt.Errorf("%w: device", ErrNotFound)
	}
	delete(devices, id)
	if err := s.store.SaveDevices(ctx, devices); err != nil {
		return fmt.Errorf("save devices: %w", err)
	}
	s.logger.Info("device removed", "device_id", id)
	return nil
}

// ListTasks returns the scheduled tasks in stored order.
func (s *Service) ListTasks(ctx context.Context) ([]store.ScheduledTask, error) {
	return s.store.Tasks(ctx)
}

// AddTask validates and stores a scheduled task, assigns it a stable id, and
// installs its fire rule on the live scheduler.
func (s *Service) AddTask(ctx context.Context, task store.ScheduledTask) (store.ScheduledTask, error) {
	task.ID = uuid.NewString()
	task.CreatedAt = time.Now()
	if err := s.validate.Struct(task); err != nil {
		return store.ScheduledTask{}, fmt.Errorf("invalid task: %w", err)
	}

	tasks, err := s.store.Tasks(ctx)
	if err != nil {
		s.logger.Warn("tasks table unreadable, starting empty", "error", err)
	}
	tasks = append(tasks, task)
	if err := s.store.SaveTasks(ctx, tasks); err != nil {
		return store.ScheduledTask{}, fmt.Errorf("save tasks: %w", err)
	}
	s.logger.Info("scheduled task added", "hour", task.Hour, "minute", task.Minute, "chat_id", task.ChatID)

	if s.sched != nil {
		if err := s.sched.AddRule(task); err != nil {
			return task, fmt.Errorf("task stored but rule not installed: %w", err)
		}
	}
	return task, nil
}

// RemoveTask deletes the task at the given position and removes its live
// fire rule. The index addresses the current stored sequence; it is not
// stable across concurrent removals.
func (s *Service) RemoveTask(ctx context.Context, index int) error {
	tasks, err := s.store.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if index < 0 || index >= len(tasks) {
		return fmt.Errorf("%w: task index %d", ErrNotFound, index)
	}
	removed := tasks[index]
	tasks = append(tasks[:index], tasks[index+1:]...)
	if err := s.store.SaveTasks(ctx, tasks); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	s.logger.Info("scheduled task removed", "hour", removed.Hour, "minute", removed.Minute, "chat_id", removed.ChatID)

	if s.sched != nil {
		if err := s.removeRule(removed); err != nil {
			return fmt.Errorf("task removed but rule teardown failed: %w", err)
		}
	}
	return nil
}

// removeRule prefers the stable task id; legacy tasks without one are
// resolved by content, since scheduler rule positions do not mirror the
// stored sequence when invalid tasks were skipped at load.
func (s *Service) removeRule(task store.ScheduledTask) error {
	if task.ID != "" {
		return s.sched.RemoveRuleByID(task.ID)
	}
	return s.sched.RemoveRuleByTask(task)
}
