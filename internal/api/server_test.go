package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/kmetric/sessiond/internal/session"
	"github.com/kmetric/sessiond/internal/storage/bolt"
	"github.com/rs/zerolog"
)

type testServer struct {
	server *Server
	store  *bolt.Store
	clock  *quartz.Mock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "sessiond.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mClock := quartz.NewMock(t)
	daily := session.NewDailyUsage(store.Usage(), zerolog.Nop())

	newManager := func(typ session.Type) *session.Manager {
		m, err := session.NewManager(store, daily, mClock, session.ManagerConfig{Type: typ}, zerolog.Nop())
		if err != nil {
			t.Fatalf("new %s manager: %v", typ, err)
		}
		if err := m.Initialize(t.Context()); err != nil {
			t.Fatalf("initialize %s manager: %v", typ, err)
		}
		return m
	}

	user := newManager(session.TypeUser)
	chart := newManager(session.TypeChart)

	server := NewServer(Config{ListenAddr: "127.0.0.1:0"}, store, user, chart, mClock, zerolog.Nop())
	return &testServer{server: server, store: store, clock: mClock}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body
}

func TestEventsCreateSessions(t *testing.T) {
	ts := newTestServer(t)

	event := ActivityEvent{
		UserID:    "alice",
		OrgID:     "org1",
		ChartType: "hp",
		ChartName: "smith",
		TabID:     "tab1",
	}

	rec := ts.do(t, http.MethodPost, "/api/events/page-load", event)
	if rec.Code != http.StatusOK {
		t.Fatalf("page-load returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/events/user-input", event)
	if rec.Code != http.StatusOK {
		t.Fatalf("user-input returned %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["success"] != true {
		t.Fatalf("expected success=true in event response, got %v", body)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions returned %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if count := body["count"].(float64); count != 2 {
		t.Fatalf("expected a user and a chart session, got count=%v", count)
	}
}

func TestEventsWithoutChartIdentity(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/events/user-input", ActivityEvent{UserID: "alice", OrgID: "org1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("user-input returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions?type=chart", nil)
	body := decodeBody(t, rec)
	if count := body["count"].(float64); count != 0 {
		t.Fatalf("expected no chart session, got count=%v", count)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions?type=user", nil)
	body = decodeBody(t, rec)
	if count := body["count"].(float64); count != 1 {
		t.Fatalf("expected one user session, got count=%v", count)
	}
}

func TestEventsRejectMissingIdentity(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/events/user-input", ActivityEvent{UserID: "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing org, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Fatalf("expected success=false in error response, got %v", body)
	}
	if body["error"] == "" {
		t.Fatalf("expected an error string in the response, got %v", body)
	}
}

func TestSessionLogsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	event := ActivityEvent{UserID: "alice", OrgID: "org1"}
	if rec := ts.do(t, http.MethodPost, "/api/events/user-input", event); rec.Code != http.StatusOK {
		t.Fatalf("user-input returned %d", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/sessions/logs?event=session_started&username=alice@org1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query logs returned %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if count := body["count"].(float64); count != 1 {
		t.Fatalf("expected one session_started entry, got count=%v", count)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions/logs?limit=9999", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range limit, got %d", rec.Code)
	}
}

func TestTerminateSessionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodPost, "/api/events/user-input", ActivityEvent{UserID: "alice", OrgID: "org1"}); rec.Code != http.StatusOK {
		t.Fatalf("user-input returned %d", rec.Code)
	}

	key, err := session.DeriveKey(session.TypeUser, session.Identity{UserID: "alice", OrgID: "org1"})
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	rec := ts.do(t, http.MethodDelete, "/api/sessions?key="+key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("terminate returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions", nil)
	body := decodeBody(t, rec)
	if count := body["count"].(float64); count != 0 {
		t.Fatalf("expected no live sessions, got count=%v", count)
	}
}

func TestUsageEndpoint(t *testing.T) {
	ts := newTestServer(t)

	start := ts.clock.Now()
	if rec := ts.do(t, http.MethodPost, "/api/events/user-input", ActivityEvent{UserID: "alice", OrgID: "org1"}); rec.Code != http.StatusOK {
		t.Fatalf("user-input returned %d", rec.Code)
	}

	date := start.UTC().Format("2006-01-02")
	rec := ts.do(t, http.MethodGet, "/api/usage/"+date, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("usage returned %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if count := body["count"].(float64); count != 1 {
		t.Fatalf("expected one usage entry, got count=%v", count)
	}

	rec = ts.do(t, http.MethodGet, "/api/usage/not-a-date", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rec.Code)
	}
}

func TestTimeoutSettingEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/settings/timeout?type=chart", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get timeout returned %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if got := body["timeout_seconds"].(float64); got != 60 {
		t.Fatalf("expected default chart timeout 60s, got %v", got)
	}

	rec = ts.do(t, http.MethodPut, "/api/settings/timeout?type=chart", map[string]int{"timeout_seconds": 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("set timeout returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/settings/timeout?type=chart", nil)
	body = decodeBody(t, rec)
	if got := body["timeout_seconds"].(float64); got != 30 {
		t.Fatalf("expected updated timeout 30s, got %v", got)
	}

	rec = ts.do(t, http.MethodPut, "/api/settings/timeout?type=bogus", map[string]int{"timeout_seconds": 30})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}
}

func TestTabRemovedEndpoint(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodPost, "/api/events/user-input", ActivityEvent{UserID: "alice", OrgID: "org1", TabID: "tab7"}); rec.Code != http.StatusOK {
		t.Fatalf("user-input returned %d", rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/api/tabs/tab7/removed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tab removed returned %d: %s", rec.Code, rec.Body.String())
	}

	// The session outlives its tab.
	rec = ts.do(t, http.MethodGet, "/api/sessions?type=user", nil)
	body := decodeBody(t, rec)
	if count := body["count"].(float64); count != 1 {
		t.Fatalf("expected the session to survive tab removal, got count=%v", count)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestEventTimestampOverride(t *testing.T) {
	ts := newTestServer(t)

	past := ts.clock.Now().Add(-time.Minute).UTC()
	event := ActivityEvent{UserID: "alice", OrgID: "org1", Timestamp: &past}
	if rec := ts.do(t, http.MethodPost, "/api/events/page-load", event); rec.Code != http.StatusOK {
		t.Fatalf("page-load returned %d", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/sessions?type=user", nil)
	body := decodeBody(t, rec)
	sessions := body["sessions"].([]interface{})
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	record := sessions[0].(map[string]interface{})
	got, err := time.Parse(time.RFC3339Nano, record["start_time"].(string))
	if err != nil {
		t.Fatalf("parse start_time: %v", err)
	}
	if !got.Equal(past) {
		t.Fatalf("expected start time %v, got %v", past, got)
	}
}
