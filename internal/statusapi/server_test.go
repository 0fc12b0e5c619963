package statusapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/boardlink/internal/auth"
	"github.com/danmuck/boardlink/internal/protocol/session"
	"github.com/danmuck/boardlink/internal/testutil/fakeserver"
	"github.com/danmuck/boardlink/internal/testutil/testlog"
	"github.com/danmuck/boardlink/internal/transport"
)

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	factory, err := transport.NewFactory(transport.KindTCP, transport.DefaultOptions())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	m, err := session.NewManager(session.ManagerConfig{
		ClientID: "status-test",
		Session:  session.DefaultConfig(),
		Factory:  factory,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func connected(t *testing.T) (*session.Manager, *fakeserver.Server) {
	t.Helper()
	srv, err := fakeserver.Start(fakeserver.Config{})
	if err != nil {
		t.Fatalf("fake server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	m := newManager(t)
	host, port := srv.Addr()
	m.Connect(session.Identity{Session: 1, Username: "bob", UserID: "7", ServerKey: "k"}, host, port)
	deadline := time.Now().Add(5 * time.Second)
	for !m.Advance() {
		if m.Policy().NeverReconnect || time.Now().After(deadline) {
			t.Fatalf("not connected: state=%v err=%q", m.State(), m.ErrString())
		}
		time.Sleep(2 * time.Millisecond)
	}
	return m, srv
}

func do(t *testing.T, s *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ClientID: "c1", Token: "secret"}, newManager(t))

	rec := do(t, s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status got=%d", rec.Code)
	}
	var health map[string]any
	decode(t, rec, &health)
	if health["status"] != "ok" || health["service"] != "c1" {
		t.Fatalf("health body got=%v", health)
	}

	rec = do(t, s, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "boardlink_http_requests_total") {
		t.Fatalf("metrics status=%d", rec.Code)
	}
	if s.NodeID() != "c1" || s.Kind() != "status" {
		t.Fatalf("identity got=%s/%s", s.NodeID(), s.Kind())
	}
}

func TestTokenRequired(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ClientID: "c1", Token: "secret"}, newManager(t))

	if rec := do(t, s, http.MethodGet, "/session", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status got=%d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/session", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status got=%d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/session", "secret", nil); rec.Code != http.StatusOK {
		t.Fatalf("good token status got=%d", rec.Code)
	}
}

func TestSessionViewUnconnected(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ClientID: "c1"}, newManager(t))

	rec := do(t, s, http.MethodGet, "/session", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d", rec.Code)
	}
	var v sessionView
	decode(t, rec, &v)
	if v.State != "unconnected" || v.Connected || v.Info != nil {
		t.Fatalf("view got=%+v", v)
	}
	if v.Client != "status-test" || v.Summary != "" {
		t.Fatalf("client/summary got=%q/%q", v.Client, v.Summary)
	}
}

func TestSessionViewConnected(t *testing.T) {
	testlog.Start(t)
	m, _ := connected(t)
	s := New(Config{ClientID: "c1"}, m)

	var v sessionView
	decode(t, do(t, s, http.MethodGet, "/session", "", nil), &v)
	if v.State != "connected" || !v.Connected || v.Info == nil {
		t.Fatalf("view got=%+v", v)
	}
	hs := fakeserver.DefaultHandshake()
	if v.Info.FeatureVersion != hs.FeatureVersion || !v.Info.Obfuscation || !v.Info.MoveTimes {
		t.Fatalf("info got=%+v", *v.Info)
	}
	if !v.Policy.AllowReconnect || v.Policy.NeverReconnect {
		t.Fatalf("policy got=%+v", v.Policy)
	}
}

func TestPingEndpointAndReset(t *testing.T) {
	testlog.Start(t)
	m := newManager(t)
	s := New(Config{ClientID: "c1"}, m)
	m.AddPing(100)
	m.AddPing(50)

	var p pingView
	decode(t, do(t, s, http.MethodGet, "/ping", "", nil), &p)
	if p.Count != 2 || p.Min != 50 || p.Max != 100 || p.Average != 75 || p.Last != 50 {
		t.Fatalf("ping got=%+v", p)
	}
	if p.Summary != "P:50,75,50,100" {
		t.Fatalf("summary got=%q", p.Summary)
	}

	if rec := do(t, s, http.MethodPost, "/ping/reset", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("reset status got=%d", rec.Code)
	}
	decode(t, do(t, s, http.MethodGet, "/ping", "", nil), &p)
	if p.Count != 0 || p.Max != 0 {
		t.Fatalf("after reset got=%+v", p)
	}
}

func TestEchoesAndCheck(t *testing.T) {
	testlog.Start(t)
	m, srv := connected(t)
	s := New(Config{ClientID: "c1"}, m)
	m.RegisterRepeatable("x9", "338 watch")

	var body struct {
		Pending    []echoView `json:"pending"`
		Repeatable []echoView `json:"repeatable"`
		Unexpected []echoView `json:"unexpected"`
	}
	decode(t, do(t, s, http.MethodGet, "/echoes", "", nil), &body)
	if len(body.Repeatable) != 1 || body.Repeatable[0].Tag != "x9" || len(body.Pending) != 0 {
		t.Fatalf("echoes got=%+v", body)
	}

	if !m.Send("310 move", false) {
		t.Fatalf("send failed: %q", m.ErrString())
	}
	srv.WaitReceived(1, 5*time.Second)
	rec := do(t, s, http.MethodPost, "/echoes/check", "", []byte(`{"up_to": 5}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("check status got=%d body=%s", rec.Code, rec.Body.String())
	}
	var res struct {
		UpTo int64 `json:"up_to"`
	}
	decode(t, rec, &res)
	if res.UpTo != 5 {
		t.Fatalf("up_to got=%d", res.UpTo)
	}

	if rec := do(t, s, http.MethodPost, "/echoes/check", "", []byte(`{"up_to":`)); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body status got=%d", rec.Code)
	}
}

func TestLogAndDisconnect(t *testing.T) {
	testlog.Start(t)
	m, _ := connected(t)
	s := New(Config{ClientID: "c1"}, m)
	m.LogMessage("note ", 1)

	var logs struct {
		Entries []struct {
			Text string `json:"text"`
		} `json:"entries"`
	}
	decode(t, do(t, s, http.MethodGet, "/log", "", nil), &logs)
	found := false
	for _, e := range logs.Entries {
		if e.Text == "note 1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("log entries got=%+v", logs.Entries)
	}

	if rec := do(t, s, http.MethodPost, "/disconnect", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("disconnect status got=%d", rec.Code)
	}
	if m.IsConnected() {
		t.Fatalf("session still connected after disconnect")
	}
}
