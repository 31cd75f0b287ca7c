package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the transport connection state visible to the UI.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned when a frame is dropped because the socket is
// not open. There is no implicit queueing.
var ErrNotConnected = fmt.Errorf("transport: not connected")

// transport is what the session facade needs from a connection. The concrete
// Transport satisfies it; tests substitute fakes.
type transport interface {
	Connect(conversationID int64, token string)
	Send(v any) error
	Close(code int, reason string)
	State() ConnState
}

// Transport owns a single WebSocket connection to a conversation-scoped
// endpoint. Outgoing frames are JSON text frames; inbound text frames are
// handed raw to OnFrame. Closes are reported to OnClose with their close
// code unless the close was requested locally with code 1000.
type Transport struct {
	baseURL string
	dialer  *websocket.Dialer
	log     *slog.Logger

	// Callbacks are set once before the first Connect.
	OnOpen  func()
	OnFrame func(data []byte)
	OnClose func(code int)

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	convID   int64
	shutdown bool
}

// NewTransport builds a transport for the given server base URL
// (ws://host or wss://host).
func NewTransport(baseURL string, log *slog.Logger) *Transport {
	return &Transport{
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log,
	}
}

// Connect opens the socket for a conversation. Logged no-op when either
// argument is missing, or when a connection for the same conversation is
// already connecting or open. The dial happens on its own goroutine.
func (t *Transport) Connect(conversationID int64, token string) {
	if conversationID == 0 || token == "" {
		t.log.Warn("connect skipped: missing conversation or token",
			"conversation_id", conversationID, "has_token", token != "")
		return
	}

	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return
	}
	if t.convID == conversationID && t.state != StateDisconnected {
		t.mu.Unlock()
		t.log.Debug("connect skipped: already connecting or open",
			"conversation_id", conversationID)
		return
	}
	t.convID = conversationID
	t.state = StateConnecting
	t.mu.Unlock()

	endpoint := t.endpoint(conversationID, token)
	go t.dial(endpoint)
}

func (t *Transport) endpoint(conversationID int64, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return fmt.Sprintf("%s/ws/chat/%d/?%s", t.baseURL, conversationID, q.Encode())
}

func (t *Transport) dial(endpoint string) {
	conn, _, err := t.dialer.Dial(endpoint, nil)
	if err != nil {
		t.log.Warn("dial failed", "error", err)
		t.mu.Lock()
		t.state = StateDisconnected
		shutdown := t.shutdown
		t.mu.Unlock()
		if !shutdown && t.OnClose != nil {
			t.OnClose(websocket.CloseAbnormalClosure)
		}
		return
	}

	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.state = StateConnected
	t.mu.Unlock()

	if t.OnOpen != nil {
		t.OnOpen()
	}
	t.readPump(conn)
}

func (t *Transport) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}

			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
				t.state = StateDisconnected
			}
			suppress := t.shutdown
			t.mu.Unlock()
			conn.Close()

			if !suppress && code != websocket.CloseNormalClosure && t.OnClose != nil {
				t.OnClose(code)
			}
			return
		}
		if t.OnFrame != nil {
			t.OnFrame(data)
		}
	}
}

// Send serializes v as a JSON text frame. Frames are dropped with a warning
// when the socket is not open.
func (t *Transport) Send(v any) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if state != StateConnected || conn == nil {
		t.log.Warn("frame dropped: socket not open", "state", state.String())
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close performs a graceful close. Code 1000 (and any locally requested
// close) suppresses the OnClose callback so no reconnect is scheduled.
func (t *Transport) Close(code int, reason string) {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	if code == websocket.CloseNormalClosure {
		t.shutdown = true
	}
	t.mu.Unlock()

	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		t.log.Debug("close frame write failed", "error", err)
	}
	conn.Close()
}

// State reports the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
