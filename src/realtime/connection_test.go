package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer is an in-process push endpoint speaking the auth handshake.
type fakeServer struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	invalid map[string]bool
	conns   []*websocket.Conn
	frames  []Frame

	srv *httptest.Server
}

func newFakeServer() *fakeServer {
	s := &fakeServer{invalid: make(map[string]bool)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *fakeServer) rejectToken(token string) {
	s.mu.Lock()
	s.invalid[token] = true
	s.mu.Unlock()
}

func (s *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var f Frame
	if err := conn.ReadJSON(&f); err != nil || f.Type != FrameAuth {
		conn.Close()
		return
	}
	var auth authPayload
	json.Unmarshal(f.Payload, &auth)

	s.mu.Lock()
	bad := s.invalid[auth.Token]
	s.mu.Unlock()
	if bad {
		payload, _ := json.Marshal(rejectPayload{Reason: "token expired"})
		conn.WriteJSON(&Frame{Type: FrameAuthRejected, Payload: payload})
		conn.Close()
		return
	}

	payload, _ := json.Marshal(authOKPayload{UserID: "user-1"})
	if err := conn.WriteJSON(&Frame{Type: FrameAuthOK, Payload: payload}); err != nil {
		conn.Close()
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var in Frame
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, in)
		s.mu.Unlock()
	}
}

// push writes a frame on the most recent accepted connection.
func (s *fakeServer) push(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return errors.New("no connection")
	}
	return s.conns[len(s.conns)-1].WriteJSON(f)
}

// dropAll closes every accepted connection server-side.
func (s *fakeServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *fakeServer) receivedFrames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeServer) close() {
	s.dropAll()
	s.srv.Close()
}

// recordingHandler counts lifecycle transitions and collects frames.
type recordingHandler struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	frames      []Frame
}

func (h *recordingHandler) HandleConnected() {
	h.mu.Lock()
	h.connects++
	h.mu.Unlock()
}

func (h *recordingHandler) HandleDisconnected() {
	h.mu.Lock()
	h.disconnects++
	h.mu.Unlock()
}

func (h *recordingHandler) HandleFrame(f *Frame) {
	h.mu.Lock()
	h.frames = append(h.frames, *f)
	h.mu.Unlock()
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects, h.disconnects
}

func (h *recordingHandler) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

// waitUntil polls cond for up to timeout.
func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestManager_ConnectAndDisconnect(t *testing.T) {
	srv := newFakeServer()
	defer srv.close()

	h := &recordingHandler{}
	m := NewManager(srv.url())
	m.SetHandler(h)

	if err := m.Connect("token-1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %s, want connected", m.State())
	}
	if c, _ := h.counts(); c != 1 {
		t.Errorf("connects = %d, want 1", c)
	}

	// Same token again is a no-op, no second socket
	if err := m.Connect("token-1"); err != nil {
		t.Fatal(err)
	}
	if srv.connCount() != 1 {
		t.Errorf("server connections = %d, want 1", srv.connCount())
	}

	m.Disconnect()
	m.Disconnect() // idempotent
	if m.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", m.State())
	}
	if _, d := h.counts(); d != 1 {
		t.Errorf("disconnects = %d, want 1", d)
	}
}

func TestManager_AuthRejectedIsTerminal(t *testing.T) {
	srv := newFakeServer()
	defer srv.close()
	srv.rejectToken("expired")

	m := NewManager(srv.url())
	m.SetHandler(&recordingHandler{})

	err := m.Connect("expired")
	if err == nil {
		t.Fatal("Connect() should fail")
	}
	var authErr *AuthRejectedError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type = %T, want *AuthRejectedError", err)
	}
	if authErr.Reason != "token expired" {
		t.Errorf("Reason = %q", authErr.Reason)
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %s, want failed", m.State())
	}

	// A fresh token recovers
	if err := m.Connect("good"); err != nil {
		t.Fatalf("Connect() with fresh token error = %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %s, want connected", m.State())
	}
	m.Disconnect()
}

func TestManager_DialFailureLeavesDisconnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/api/v1/realtime")
	m.SetHandler(&recordingHandler{})

	if err := m.Connect("token"); err == nil {
		t.Fatal("Connect() should fail against a closed port")
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected (retryable, not failed)", m.State())
	}
}

func TestManager_SubscribeFramesReachServer(t *testing.T) {
	srv := newFakeServer()
	defer srv.close()

	m := NewManager(srv.url())
	m.SetHandler(&recordingHandler{})
	if err := m.Connect("token"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	if err := m.Subscribe(KindNotifications, "user-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := m.Unsubscribe(KindNotifications, "user-1"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	ok := waitUntil(time.Second, func() bool { return len(srv.receivedFrames()) >= 2 })
	if !ok {
		t.Fatalf("server received %d frames, want 2", len(srv.receivedFrames()))
	}
	frames := srv.receivedFrames()
	if frames[0].Type != FrameSubscribe || frames[0].Channel != "notifications:user-1" {
		t.Errorf("first frame = %+v", frames[0])
	}
	if frames[1].Type != FrameUnsubscribe {
		t.Errorf("second frame = %+v", frames[1])
	}
}

func TestManager_SendWhileDisconnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/api/v1/realtime")
	if err := m.Send(&Frame{Type: FrameSubscribe, Channel: "notifications:u"}); err == nil {
		t.Error("Send() should fail while disconnected")
	}
}

func TestManager_PushedFramesReachHandler(t *testing.T) {
	srv := newFakeServer()
	defer srv.close()

	h := &recordingHandler{}
	m := NewManager(srv.url())
	m.SetHandler(h)
	if err := m.Connect("token"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	if err := srv.push(&Frame{Type: FrameNotification, Channel: "notifications:user-1", Payload: []byte(`{"id":"n1"}`)}); err != nil {
		t.Fatal(err)
	}

	if !waitUntil(time.Second, func() bool { return h.frameCount() == 1 }) {
		t.Fatalf("handler frames = %d, want 1", h.frameCount())
	}
}

func TestManager_AnswersPingWithPong(t *testing.T) {
	srv := newFakeServer()
	defer srv.close()

	m := NewManager(srv.url())
	m.SetHandler(&recordingHandler{})
	if err := m.Connect("token"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	if err := srv.push(&Frame{Type: FramePing}); err != nil {
		t.Fatal(err)
	}

	ok := waitUntil(time.Second, func() bool {
		for _, f := range srv.receivedFrames() {
			if f.Type == FramePong {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Error("no pong received")
	}
}

func TestManager_TokenRotationSwapsConnection(t *testing.T) {
	srv := newFakeServer()
	defer srv.close()

	h := &recordingHandler{}
	m := NewManager(srv.url())
	m.SetHandler(h)
	if err := m.Connect("token-1"); err != nil {
		t.Fatal(err)
	}

	if err := m.Reauthenticate("token-2"); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %s, want connected", m.State())
	}
	if srv.connCount() != 2 {
		t.Errorf("server accepted %d connections, want 2", srv.connCount())
	}
	connects, _ := h.counts()
	if connects != 2 {
		t.Errorf("connects = %d, want 2", connects)
	}
	m.Disconnect()
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	srv := newFakeServer()
	defer srv.close()

	h := &recordingHandler{}
	m := NewManager(srv.url())
	m.SetHandler(h)
	if err := m.Connect("token"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	srv.dropAll()

	ok := waitUntil(5*time.Second, func() bool {
		c, _ := h.counts()
		return c >= 2 && m.State() == StateConnected
	})
	if !ok {
		t.Fatalf("no reconnect: state=%s", m.State())
	}
	if _, d := h.counts(); d != 1 {
		t.Errorf("disconnects = %d, want 1", d)
	}
}

func TestManager_RegistryResubscribesAfterReconnect(t *testing.T) {
	srv := newFakeServer()
	defer srv.close()

	m := NewManager(srv.url())
	r := NewRegistry(m)

	// Subscribing before the connect is deferred, not lost
	r.Subscribe(KindNotifications, "user-1", Callbacks{})

	if err := m.Connect("token"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	subscribes := func() int {
		n := 0
		for _, f := range srv.receivedFrames() {
			if f.Type == FrameSubscribe && f.Channel == "notifications:user-1" {
				n++
			}
		}
		return n
	}
	if !waitUntil(time.Second, func() bool { return subscribes() == 1 }) {
		t.Fatalf("deferred subscribe never sent: %d", subscribes())
	}

	srv.dropAll()
	if !waitUntil(5*time.Second, func() bool { return subscribes() == 2 }) {
		t.Fatalf("no resubscribe after reconnect: %d", subscribes())
	}
}
