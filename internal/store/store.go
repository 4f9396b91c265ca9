// Package store persists the engine tables (bots, users, keywords, messages,
// devices, scheduled_tasks) as whole-document JSON files in a data
// directory. Documents are written UTF-8 native without ASCII escaping so
// non-Latin keywords and messages stay readable on disk.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Table names, which double as the file basenames under the data directory.
const (
	TableBots     = "bots"
	TableUsers    = "users"
	TableKeywords = "keywords"
	TableMessages = "messages"
	TableDevices  = "devices"
	TableTasks    = "scheduled_tasks"
)

var tableNames = []string{TableBots, TableUsers, TableKeywords, TableMessages, TableDevices, TableTasks}

// ErrTableIO reports an unreadable or corrupt table file. Load methods that
// return it still return a usable empty document, so callers can log the
// error and keep serving.
var ErrTableIO = errors.New("store: table unreadable")

// Store is the persistence boundary shared by the routing engine and the
// admin surface. Load methods return the current on-disk snapshot; save
// methods replace the whole document. Writes to the same table are
// serialized internally, so concurrent sessions and the admin surface can
// share one Store.
type Store interface {
	Bots(ctx context.Context) (map[string]BotAccount, error)
	SaveBots(ctx context.Context, bots map[string]BotAccount) error

	Users(ctx context.Context) (map[int64]User, error)
	SaveUsers(ctx context.Context, users map[int64]User) error
	// UpsertUser records a user on first contact. It reports true when a new
	// record was written and false when the id was already known; existing
	// records are never modified.
	UpsertUser(ctx context.Context, user User) (bool, error)

	Keywords(ctx context.Context) (*KeywordTable, error)
	SaveKeywords(ctx context.Context, table *KeywordTable) error

	Messages(ctx context.Context) (map[string][]MessageRecord, error)
	SaveMessages(ctx context.Context, messages map[string][]MessageRecord) error

	Devices(ctx context.Context) (map[string]Device, error)
	SaveDevices(ctx context.Context, devices map[string]Device) error

	Tasks(ctx context.Context) ([]ScheduledTask, error)
	SaveTasks(ctx context.Context, tasks []ScheduledTask) error
}

// FileStore implements Store over flat JSON files.
type FileStore struct {
	dir    string
	logger *slog.Logger
	mu     map[string]*sync.Mutex
}

// NewFileStore creates the data directory if needed and returns a store
// rooted there.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}

	mu := make(map[string]*sync.Mutex, len(tableNames))
	for _, name := range tableNames {
		mu[name] = &sync.Mutex{}
	}

	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "store"),
		mu:     mu,
	}, nil
}

func (s *FileStore) path(table string) string {
	return filepath.Join(s.dir, table+".json")
}

// load reads a table document into out. A missing or empty file leaves out
// untouched (the caller passes an initialized empty document). A corrupt
// file returns ErrTableIO.
func (s *FileStore) load(table string, out any) error {
	data, err := os.ReadFile(s.path(table))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrTableIO, table, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTableIO, table, err)
	}
	return nil
}

// save writes a table document atomically: encode to a temp file in the same
// directory, then rename over the table file. A crashed write never leaves a
// half-written table behind.
func (s *FileStore) save(table string, doc any) error {
	tmp, err := os.CreateTemp(s.dir, table+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", ErrTableIO, table, err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: encode %s: %v", ErrTableIO, table, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", ErrTableIO, table, err)
	}
	if err := os.Rename(tmpName, s.path(table)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", ErrTableIO, table, err)
	}
	return nil
}

// Bots returns the registered bot accounts keyed by token.
func (s *FileStore) Bots(_ context.Context) (map[string]BotAccount, error) {
	s.mu[TableBots].Lock()
	defer s.mu[TableBots].Unlock()

	bots := make(map[string]BotAccount)
	err := s.load(TableBots, &bots)
	return bots, err
}

// SaveBots replaces the bots table.
func (s *FileStore) SaveBots(_ context.Context, bots map[string]BotAccount) error {
	s.mu[TableBots].Lock()
	defer s.mu[TableBots].Unlock()

	if bots == nil {
		bots = map[string]BotAccount{}
	}
	return s.save(TableBots, bots)
}

// Users returns the known users keyed by platform id.
func (s *FileStore) Users(_ context.Context) (map[int64]User, error) {
	s.mu[TableUsers].Lock()
	defer s.mu[TableUsers].Unlock()

	users := make(map[int64]User)
	err := s.load(TableUsers, &users)
	return users, err
}

// SaveUsers replaces the users table.
func (s *FileStore) SaveUsers(_ context.Context, users map[int64]User) error {
	s.mu[TableUsers].Lock()
	defer s.mu[TableUsers].Unlock()

	if users == nil {
		users = map[int64]User{}
	}
	return s.save(TableUsers, users)
}

// UpsertUser writes the user record if the id is not yet known. The whole
// load-modify-save runs under the users table lock so concurrent sessions
// cannot lose each other's writes.
func (s *FileStore) UpsertUser(_ context.Context, user User) (bool, error) {
	s.mu[TableUsers].Lock()
	defer s.mu[TableUsers].Unlock()

	users := make(map[int64]User)
	if err := s.load(TableUsers, &users); err != nil {
		// A corrupt users table must not stop message routing; start a fresh
		// document and report the original problem alongside.
		s.logger.Warn("users table unreadable, starting empty", "error", err)
	}
	if _, ok := users[user.ID]; ok {
		return false, nil
	}

	if user.JoinedAt.IsZero() {
		user.JoinedAt = time.Now()
	}
	users[user.ID] = user
	if err := s.save(TableUsers, users); err != nil {
		return false, err
	}
	return true, nil
}

// Keywords returns the keyword routing table in document order.
func (s *FileStore) Keywords(_ context.Context) (*KeywordTable, error) {
	s.mu[TableKeywords].Lock()
	defer s.mu[TableKeywords].Unlock()

	table := &KeywordTable{}
	err := s.load(TableKeywords, table)
	return table, err
}

// SaveKeywords replaces the keywords table.
func (s *FileStore) SaveKeywords(_ context.Context, table *KeywordTable) error {
	s.mu[TableKeywords].Lock()
	defer s.mu[TableKeywords].Unlock()

	if table == nil {
		table = &KeywordTable{}
	}
	return s.save(TableKeywords, table)
}

// Messages returns the reserved message archive table.
func (s *FileStore) Messages(_ context.Context) (map[string][]MessageRecord, error) {
	s.mu[TableMessages].Lock()
	defer s.mu[TableMessages].Unlock()

	messages := make(map[string][]MessageRecord)
	err := s.load(TableMessages, &messages)
	return messages, err
}

// SaveMessages replaces the message archive table.
func (s *FileStore) SaveMessages(_ context.Context, messages map[string][]MessageRecord) error {
	s.mu[TableMessages].Lock()
	defer s.mu[TableMessages].Unlock()

	if messages == nil {
		messages = map[string][]MessageRecord{}
	}
	return s.save(TableMessages, messages)
}

// Devices returns the managed devices keyed by device id.
func (s *FileStore) Devices(_ context.Context) (map[string]Device, error) {
	s.mu[TableDevices].Lock()
	defer s.mu[TableDevices].Unlock()

	devices := make(map[string]Device)
	err := s.load(TableDevices, &devices)
	return devices, err
}

// SaveDevices replaces the devices table.
func (s *FileStore) SaveDevices(_ context.Context, devices map[string]Device) error {
	s.mu[TableDevices].Lock()
	defer s.mu[TableDevices].Unlock()

	if devices == nil {
		devices = map[string]Device{}
	}
	return s.save(TableDevices, devices)
}

// Tasks returns the scheduled task sequence in stored order.
func (s *FileStore) Tasks(_ context.Context) ([]ScheduledTask, error) {
	s.mu[TableTasks].Lock()
	defer s.mu[TableTasks].Unlock()

	var tasks []ScheduledTask
	err := s.load(TableTasks, &tasks)
	return tasks, err
}

// SaveTasks replaces the scheduled task sequence.
func (s *FileStore) SaveTasks(_ context.Context, tasks []ScheduledTask) error {
	s.mu[TableTasks].Lock()
	defer s.mu[TableTasks].Unlock()

	if tasks == nil {
		tasks = []ScheduledTask{}
	}
	return s.save(TableTasks, tasks)
}
