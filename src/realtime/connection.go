package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/fleetdesk/portal/src/metrics"
)

// State is the connection lifecycle state of the Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// Terminal until Connect is called with a fresh token
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// AuthRejectedError means the server refused the authentication
// handshake. Terminal: the manager does not retry, the caller must
// obtain a new token and reconnect.
type AuthRejectedError struct {
	Reason string
}

// Error implements the error interface
func (e *AuthRejectedError) Error() string {
	return "authentication rejected: " + e.Reason
}

// Handler receives connection lifecycle transitions and every frame
// the server pushes. The subscription registry implements it.
type Handler interface {
	HandleConnected()
	HandleDisconnected()
	HandleFrame(f *Frame)
}

// Timeouts for the websocket transport
const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	readTimeout      = 60 * time.Second
)

// Manager owns the single authenticated websocket of a session. It is
// keyed by token identity: Connect with the current token is a no-op,
// Connect with a new token closes the old socket and opens a new one.
// Views never hold a Manager directly, so remounting a view cannot open
// a duplicate socket.
//
// Network drops trigger the manager's own backoff reconnect; an auth
// rejection (at connect time or during a reconnect) moves it to
// StateFailed and stops all retrying.
type Manager struct {
	url     string
	dialer  *websocket.Dialer
	handler Handler

	mu      sync.Mutex
	writeMu sync.Mutex
	state   State
	token   string
	conn    *websocket.Conn
	// Bumped on every successful dial and on Disconnect, so pumps and
	// reconnect loops from a previous connection become inert.
	gen int
}

// NewManager creates a manager for the given websocket URL. The handler
// may be set later with SetHandler but must be set before Connect.
func NewManager(url string) *Manager {
	return &Manager{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// SetHandler installs the frame/lifecycle handler.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the connection, authenticating with token. Calling
// it again with the same token while connected is a no-op; a different
// token rotates the connection. Returns *AuthRejectedError if the server
// refuses the handshake, in which case the manager stays in StateFailed
// and will not retry on its own.
func (m *Manager) Connect(token string) error {
	m.mu.Lock()
	if m.state == StateConnected && m.token == token {
		m.mu.Unlock()
		return nil
	}

	// Token rotation or fresh connect: drop any existing socket first
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	gen := m.gen
	m.token = token
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.dialAndAuthenticate(token)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			if _, ok := err.(*AuthRejectedError); ok {
				m.state = StateFailed
			} else {
				m.state = StateDisconnected
			}
		}
		m.mu.Unlock()
		return err
	}

	m.adopt(conn, gen)
	return nil
}

// Reauthenticate rotates the connection to a new token. Same contract
// as Connect.
func (m *Manager) Reauthenticate(token string) error {
	return m.Connect(token)
}

// Disconnect closes the connection. Idempotent; does not trigger a
// reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	m.token = ""
	m.gen++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	handler := m.handler
	m.mu.Unlock()

	if wasConnected && handler != nil {
		handler.HandleDisconnected()
	}
}

// Subscribe sends a subscribe frame for the given channel. No-op while
// not connected; the registry re-sends on reconnect.
func (m *Manager) Subscribe(kind Kind, key string) error {
	return m.Send(&Frame{Type: FrameSubscribe, Channel: ChannelName(kind, key)})
}

// Unsubscribe sends an unsubscribe frame for the given channel.
func (m *Manager) Unsubscribe(kind Kind, key string) error {
	return m.Send(&Frame{Type: FrameUnsubscribe, Channel: ChannelName(kind, key)})
}

// Send writes a frame to the server. Returns an error when not
// connected.
func (m *Manager) Send(f *Frame) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("realtime: not connected")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

// dialAndAuthenticate opens the socket and runs the auth handshake:
// first frame out is auth, first frame in must be auth_ok.
func (m *Manager) dialAndAuthenticate(token string) (*websocket.Conn, error) {
	conn, _, err := m.dialer.Dial(m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", m.url, err)
	}

	payload, _ := json.Marshal(authPayload{Token: token})
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(&Frame{Type: FrameAuth, Payload: payload}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime: auth write: %w", err)
	}

	var reply Frame
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime: auth read: %w", err)
	}

	switch reply.Type {
	case FrameAuthOK:
		var p authOKPayload
		json.Unmarshal(reply.Payload, &p)
		if p.UserID != "" {
			log.Printf("realtime: authenticated as %s", p.UserID)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn, nil
	case FrameAuthRejected:
		conn.Close()
		var p rejectPayload
		json.Unmarshal(reply.Payload, &p)
		if p.Reason == "" {
			p.Reason = "unknown"
		}
		return nil, &AuthRejectedError{Reason: p.Reason}
	default:
		conn.Close()
		return nil, fmt.Errorf("realtime: unexpected handshake frame %q", reply.Type)
	}
}

// adopt installs an authenticated connection and starts its read pump.
func (m *Manager) adopt(conn *websocket.Conn, gen int) {
	m.mu.Lock()
	if m.gen != gen {
		// Disconnect or rotation raced us; this socket is already stale
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.state = StateConnected
	handler := m.handler
	m.mu.Unlock()

	go m.readPump(conn, gen)
	if handler != nil {
		handler.HandleConnected()
	}
}

// readPump reads frames until the connection drops, answering pings
// inline and handing everything else to the handler.
func (m *Manager) readPump(conn *websocket.Conn, gen int) {
	for {
		var f Frame
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: read error: %v", err)
			}
			m.connectionLost(gen)
			return
		}

		if f.Type == FramePing {
			if err := m.Send(&Frame{Type: FramePong}); err != nil {
				log.Printf("realtime: pong failed: %v", err)
			}
			continue
		}

		m.mu.Lock()
		handler := m.handler
		stale := m.gen != gen
		m.mu.Unlock()
		if stale {
			return
		}
		if handler != nil {
			handler.HandleFrame(&f)
		}
	}
}

// connectionLost handles an unexpected drop: notify, then reconnect
// with exponential backoff until we are back, the caller disconnects,
// or the server rejects our token.
func (m *Manager) connectionLost(gen int) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnected {
		// Deliberate Disconnect/rotation, not a drop
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.conn = nil
	token := m.token
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler.HandleDisconnected()
	}

	go m.reconnect(gen, token)
}

// reconnect redials with exponential backoff. Subscriptions are
// re-established by the handler's HandleConnected, not by callers.
func (m *Manager) reconnect(gen int, token string) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // keep trying until told otherwise

	err := backoff.Retry(func() error {
		m.mu.Lock()
		stale := m.gen != gen || m.state != StateConnecting
		m.mu.Unlock()
		if stale {
			return nil
		}

		conn, err := m.dialAndAuthenticate(token)
		if err != nil {
			if authErr, ok := err.(*AuthRejectedError); ok {
				// Token no longer valid; stop retrying
				return backoff.Permanent(authErr)
			}
			log.Printf("realtime: reconnect failed: %v", err)
			metrics.RealtimeReconnectsTotal.WithLabelValues("failed").Inc()
			return err
		}

		metrics.RealtimeReconnectsTotal.WithLabelValues("ok").Inc()
		m.adopt(conn, gen)
		return nil
	}, policy)

	if err != nil {
		if _, ok := err.(*AuthRejectedError); ok {
			m.mu.Lock()
			if m.gen == gen {
				m.state = StateFailed
			}
			m.mu.Unlock()
			log.Printf("realtime: reconnect abandoned: %v", err)
		}
	}
}
