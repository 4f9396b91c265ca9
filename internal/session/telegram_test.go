package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
)

// fakeAPI stands in for the Telegram Bot API so sessions can be exercised
// without network access. It answers every method call with an empty result.
type fakeAPI struct {
	srv      *httptest.Server
	requests atomic.Int64
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	api := &fakeAPI{}
	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		api.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	t.Cleanup(api.srv.Close)
	return api
}

func newFakeAPISession(t *testing.T, api *fakeAPI) *telegramSession {
	t.Helper()

	b, err := tgbot.New("123:test",
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(api.srv.URL),
	)
	if err != nil {
		t.Fatalf("tgbot.New: %v", err)
	}
	return &telegramSession{
		token:       "123:test",
		name:        "test-bot",
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		sendTimeout: time.Second,
		bot:         b,
	}
}

func TestTelegramSessionStartCloseConcurrent(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)

	// Registration publishes a session before its receive loop starts, so
	// Start and Close can run from different goroutines in either order.
	for range 25 {
		s := newFakeAPISession(t, api)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
		wg.Wait()
		s.Close()
	}
}

func TestTelegramSessionCloseBeforeStart(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	s := newFakeAPISession(t, api)

	s.Close()
	s.Start(context.Background())

	// A closed session must never launch its polling loop.
	time.Sleep(100 * time.Millisecond)
	if n := api.requests.Load(); n != 0 {
		t.Fatalf("closed session polled the API %d times", n)
	}
}

func TestTelegramSessionDoubleClose(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	s := newFakeAPISession(t, api)

	s.Start(context.Background())
	s.Close()
	s.Close()
}
