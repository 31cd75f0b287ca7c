package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tavernhq/tavernmsg/internal/obs"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTransportConnectAndReceive(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		if got := r.URL.Query().Get("token"); got != "tok" {
			t.Errorf("token = %q, want tok", got)
		}
		if !strings.HasPrefix(r.URL.Path, "/ws/chat/10/") {
			t.Errorf("path = %q", r.URL.Path)
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_status","status":"ok"}`))
		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	frames := make(chan []byte, 4)
	tr := NewTransport(wsURL(srv), obs.Discard())
	tr.OnFrame = func(data []byte) { frames <- data }

	tr.Connect(10, "tok")
	waitFor(t, func() bool { return tr.State() == StateConnected }, "connected state")

	select {
	case data := <-frames:
		if !strings.Contains(string(data), "connection_status") {
			t.Errorf("frame = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	// Re-connecting the same conversation while open is a no-op.
	tr.Connect(10, "tok")
	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Errorf("server saw %d dials, want 1", got)
	}

	tr.Close(websocket.CloseNormalClosure, "done")
}

func TestTransportConnectRequiresArgs(t *testing.T) {
	tr := NewTransport("ws://example.test", obs.Discard())

	tr.Connect(0, "tok")
	tr.Connect(10, "")

	time.Sleep(20 * time.Millisecond)
	if got := tr.State(); got != StateDisconnected {
		t.Fatalf("state = %v, want disconnected (connect must be a no-op)", got)
	}
}

func TestTransportSendDropsWhenNotOpen(t *testing.T) {
	tr := NewTransport("ws://example.test", obs.Discard())
	if err := tr.Send(typingOutFrame{Type: TypeTyping}); err != ErrNotConnected {
		t.Fatalf("Send = %v, want ErrNotConnected", err)
	}
}

func TestTransportReportsAbnormalClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the TCP connection without a close handshake.
		conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	codes := make(chan int, 1)
	tr := NewTransport(wsURL(srv), obs.Discard())
	tr.OnClose = func(code int) { codes <- code }

	tr.Connect(10, "tok")

	select {
	case code := <-codes:
		if code == websocket.CloseNormalClosure {
			t.Errorf("close code = %d, want abnormal", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired for abnormal close")
	}
	if got := tr.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestTransportNormalCloseSuppressesCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	closed := make(chan int, 1)
	tr := NewTransport(wsURL(srv), obs.Discard())
	tr.OnClose = func(code int) { closed <- code }

	tr.Connect(10, "tok")
	waitFor(t, func() bool { return tr.State() == StateDisconnected }, "disconnect")

	select {
	case code := <-closed:
		t.Fatalf("OnClose fired with code %d for a normal closure", code)
	case <-time.After(100 * time.Millisecond):
	}
}
