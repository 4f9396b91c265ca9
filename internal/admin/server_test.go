package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tgfleet/tgfleet/internal/session"
	"github.com/tgfleet/tgfleet/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	svc := NewService(st, &stubRegistrar{}, &stubScheduler{}, nil)
	return NewServer(":0", svc, nil), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	ctx := context.Background()

	if err := st.SaveKeywords(ctx, store.NewKeywordTable(
		store.KeywordRule{Keyword: "价格", Targets: []int64{-1}},
	)); err != nil {
		t.Fatalf("SaveKeywords: %v", err)
	}

	rec := do(t, srv.Handler(), http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var stats Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.KeywordCount != 1 {
		t.Fatalf("stats = %+v, want 1 keyword", stats)
	}
}

func TestKeywordLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/keywords", map[string]any{
		"keyword": "结算",
		"targets": []int64{-10, -20},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/keywords = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/keywords", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/keywords = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "结算") {
		t.Fatalf("keyword missing from listing: %s", rec.Body)
	}
	// Non-ASCII keywords go out as UTF-8, not \u escapes.
	if strings.Contains(rec.Body.String(), `\u`) {
		t.Fatalf("listing escaped non-ASCII text: %s", rec.Body)
	}

	rec = do(t, h, http.MethodDelete, "/api/keywords/结算", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /api/keywords/结算 = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodDelete, "/api/keywords/结算", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("DELETE of missing keyword = %d, want 404", rec.Code)
	}
}

func TestAddKeywordBadRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/keywords", map[string]any{
		"keyword": "",
		"targets": []int64{-1},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty keyword accepted: status = %d", rec.Code)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"bot_token": "tok-1",
		"chat_id":   -100,
		"message":   "每日提醒",
		"hour":      8,
		"minute":    30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/tasks = %d, body = %s", rec.Code, rec.Body)
	}

	var created store.ScheduledTask
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode created task: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created task has no id")
	}

	rec = do(t, h, http.MethodGet, "/api/tasks", nil)
	var tasks []store.ScheduledTask
	if err := json.NewDecoder(rec.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Fatalf("tasks = %v", tasks)
	}

	rec = do(t, h, http.MethodDelete, "/api/tasks/0", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /api/tasks/0 = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodDelete, "/api/tasks/0", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("DELETE on empty table = %d, want 404", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/tasks/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("DELETE with non-numeric index = %d, want 400", rec.Code)
	}
}

func TestAddTaskRejectsBadHourOverHTTP(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/tasks", map[string]any{
		"bot_token": "tok-1",
		"chat_id":   -100,
		"message":   "x",
		"hour":      24,
		"minute":    0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("hour 24 accepted: status = %d", rec.Code)
	}
}

func TestAddBotValidationIs400(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/bots", map[string]any{
		"token": "",
		"name":  "alpha",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty token = %d, want 400", rec.Code)
	}
}

func TestAddBotSessionFailureIs502(t *testing.T) {
	t.Parallel()

	st, err := store.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	svc := NewService(st, &stubRegistrar{registerErr: session.ErrAuth}, &stubScheduler{}, nil)
	srv := NewServer(":0", svc, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/bots", map[string]any{
		"token": "tok-1",
		"name":  "alpha",
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("session open failure = %d, want 502", rec.Code)
	}
}

func TestDeviceLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/devices", map[string]any{
		"id":          "dev-01",
		"name":        "门口摄像头",
		"description": "entrance camera",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/devices = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/devices = %d", rec.Code)
	}
	var devices map[string]store.Device
	if err := json.NewDecoder(rec.Body).Decode(&devices); err != nil {
		t.Fatalf("decode devices: %v", err)
	}
	if devices["dev-01"].Name != "门口摄像头" {
		t.Fatalf("devices = %v", devices)
	}

	rec = do(t, h, http.MethodGet, "/api/stats", nil)
	var stats Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.DeviceCount != 1 {
		t.Fatalf("stats = %+v, want 1 device", stats)
	}

	rec = do(t, h, http.MethodDelete, "/api/devices/dev-01", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /api/devices/dev-01 = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodDelete, "/api/devices/dev-01", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("DELETE of missing device = %d, want 404", rec.Code)
	}
}

func TestAddDeviceBadRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/devices", map[string]any{
		"id":   "",
		"name": "sensor",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty device id accepted: status = %d", rec.Code)
	}
}

func TestRemoveMissingBotIs404(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodDelete, "/api/bots/no-such-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("DELETE of missing bot = %d, want 404", rec.Code)
	}
}
