package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evs-hal/displayd/internal/arbiter"
	"github.com/evs-hal/displayd/internal/display"
	"github.com/evs-hal/displayd/internal/health"
)

type fakeDisplay struct {
	mu     sync.Mutex
	state  display.State
	notify func(display.State)
}

func (f *fakeDisplay) Info() display.Desc { return display.DefaultDesc() }

func (f *fakeDisplay) SetState(s display.State) display.Result {
	f.mu.Lock()
	if f.state == display.StateDead {
		f.mu.Unlock()
		return display.ResultOwnershipLost
	}
	f.state = s
	notify := f.notify
	f.mu.Unlock()
	if notify != nil {
		notify(s)
	}
	return display.ResultOK
}

func (f *fakeDisplay) State() display.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDisplay) TargetBuffer(deliver func(display.BufferDesc)) {
	deliver(display.BufferDesc{})
}

func (f *fakeDisplay) ReturnBuffer(display.BufferDesc) display.Result {
	return display.ResultOK
}

func (f *fakeDisplay) Mode() display.Mode {
	return display.Mode{Width: 1280, Height: 720}
}

func (f *fakeDisplay) ForceShutdown() {
	f.mu.Lock()
	f.state = display.StateDead
	notify := f.notify
	f.mu.Unlock()
	if notify != nil {
		notify(display.StateDead)
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	factory := func(onStateChange func(display.State)) (display.Display, error) {
		return &fakeDisplay{notify: onStateChange}, nil
	}
	return New("127.0.0.1:0", arbiter.New(factory, health.NewMonitor()), health.NewMonitor())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("bad JSON body %q: %v", w.Body.String(), err)
	}
	return m
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if m := decode(t, w); m["status"] != "healthy" {
		t.Fatalf("health = %v, want healthy", m["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	m := decode(t, w)
	if _, ok := m["uptimeSeconds"]; !ok {
		t.Fatal("status should report uptimeSeconds")
	}
	if _, ok := m["pid"]; !ok {
		t.Fatal("status should report pid")
	}
}

func TestDisplayInfoWithoutDisplay(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/v1/display", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestOpenCloseFlow(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/display/open", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d, want 200", w.Code)
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatal("open should return a token")
	}

	w = doJSON(t, h, http.MethodGet, "/v1/display", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("display info status = %d, want 200", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/v1/display/close", map[string]string{"token": "not-a-uuid"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed token status = %d, want 400", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/v1/display/close", map[string]string{"token": token})
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d, want 200", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/display", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("after close status = %d, want 404", w.Code)
	}
}

func TestCloseWithForeignToken(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	doJSON(t, h, http.MethodPost, "/v1/display/open", nil)

	w := doJSON(t, h, http.MethodPost, "/v1/display/close",
		map[string]string{"token": "8f4f7a52-6f4e-4d6a-9a6f-111111111111"})
	if w.Code != http.StatusConflict {
		t.Fatalf("foreign close status = %d, want 409", w.Code)
	}
}

func TestSetState(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/display/state", map[string]string{"state": "VISIBLE"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("no display status = %d, want 404", w.Code)
	}

	doJSON(t, h, http.MethodPost, "/v1/display/open", nil)

	w = doJSON(t, h, http.MethodPost, "/v1/display/state", map[string]string{"state": "VISIBLE"})
	if w.Code != http.StatusOK {
		t.Fatalf("set state status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if m := decode(t, w); m["result"] != display.ResultOK.String() {
		t.Fatalf("result = %v, want OK", m["result"])
	}

	w = doJSON(t, h, http.MethodGet, "/v1/display", nil)
	if m := decode(t, w); m["state"] != display.StateVisible.String() {
		t.Fatalf("state = %v, want VISIBLE", m["state"])
	}

	w = doJSON(t, h, http.MethodPost, "/v1/display/state", map[string]string{"state": "SIDEWAYS"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad state status = %d, want 400", w.Code)
	}
}

func TestSetStateAfterPreemption(t *testing.T) {
	factory := func(onStateChange func(display.State)) (display.Display, error) {
		return &fakeDisplay{notify: onStateChange}, nil
	}
	arb := arbiter.New(factory, nil)
	s := New("127.0.0.1:0", arb, health.NewMonitor())
	h := s.Handler()

	first, err := arb.Open()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := arb.Open(); err != nil {
		t.Fatal(err)
	}

	// The preempted owner's display is dead; the arbiter now serves the
	// new owner's display, so state changes over HTTP still succeed.
	if got := first.Display.SetState(display.StateVisible); got != display.ResultOwnershipLost {
		t.Fatalf("preempted SetState = %v, want OWNERSHIP_LOST", got)
	}
	w := doJSON(t, h, http.MethodPost, "/v1/display/state", map[string]string{"state": "VISIBLE"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.hub.close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/display/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server time to register the subscriber before opening.
	time.Sleep(50 * time.Millisecond)

	w := doJSON(t, s.Handler(), http.MethodPost, "/v1/display/open", nil)
	if w.Code != http.StatusOK {
		t.Fatal("open failed")
	}
	w = doJSON(t, s.Handler(), http.MethodPost, "/v1/display/state", map[string]string{"state": "VISIBLE"})
	if w.Code != http.StatusOK {
		t.Fatal("set state failed")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev StateEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("bad event %q: %v", data, err)
	}
	if ev.Type != "display_state" {
		t.Fatalf("event type = %q, want display_state", ev.Type)
	}
	if ev.State != display.StateVisible.String() {
		t.Fatalf("event state = %q, want VISIBLE", ev.State)
	}
}
