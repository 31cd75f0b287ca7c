package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tavernhq/tavernmsg/internal/obs"
)

type fakeTransport struct {
	mu       sync.Mutex
	state    ConnState
	sent     []any
	connects int
	failSend bool
}

func (f *fakeTransport) Connect(conversationID int64, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.state = StateConnected
}

func (f *fakeTransport) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend || f.state != StateConnected {
		return ErrNotConnected
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateDisconnected
}

func (f *fakeTransport) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) sentFrames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeUploader struct {
	ids []string
	err error
}

func (f *fakeUploader) Upload(ctx context.Context, conversationID int64, paths []string) ([]string, error) {
	return f.ids, f.err
}

func newTestSession(t *testing.T, up Uploader) (*Session, *fakeTransport) {
	t.Helper()
	s := NewSession(Config{
		ServerURL:      "ws://example.test",
		Token:          "tok",
		UserID:         1,
		Username:       "bran",
		ConversationID: 10,
		Reconnect:      ReconnectPolicy{Base: 10 * time.Millisecond, Multiplier: 1, MaxAttempts: 100},
		TypingTTL:      time.Minute,
		Uploader:       up,
		Logger:         obs.Discard(),
	})
	ft := &fakeTransport{state: StateConnected}
	s.conn = ft
	return s, ft
}

func dispatch(s *Session, frame string) {
	s.router.Dispatch([]byte(frame))
}

func TestSendMessageOptimisticReconcile(t *testing.T) {
	s, ft := newTestSession(t, nil)

	if err := s.SendMessage(context.Background(), "hi", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Content != "hi" || msgs[0].Status != StatusSending {
		t.Fatalf("optimistic message = %+v", msgs[0])
	}

	sent := ft.sentFrames()
	if len(sent) != 1 {
		t.Fatalf("transport saw %d frames, want 1", len(sent))
	}
	if f, ok := sent[0].(sendMessageFrame); !ok || f.Type != TypeSendMessage || f.Content != "hi" {
		t.Fatalf("outbound frame = %+v", sent[0])
	}

	dispatch(s, `{"type":"message_sent","id":42,"status":"sent"}`)

	msgs = s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after echo, want 1", len(msgs))
	}
	if msgs[0].ID != 42 || msgs[0].Content != "hi" || msgs[0].Status != StatusSent {
		t.Fatalf("reconciled message = %+v", msgs[0])
	}
}

func TestNewMessageEchoDoesNotDuplicate(t *testing.T) {
	s, _ := newTestSession(t, nil)

	if err := s.SendMessage(context.Background(), "hello", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	dispatch(s, `{"type":"new_message","message":{"id":42,"sender_id":1,"content":"hello","created_at":"2026-08-30T12:00:00Z"}}`)

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (echo must reconcile, not append)", len(msgs))
	}
	if msgs[0].ID != 42 || msgs[0].Status != StatusSent {
		t.Fatalf("reconciled message = %+v", msgs[0])
	}
}

func TestMessagesOrderedByTimestamp(t *testing.T) {
	s, _ := newTestSession(t, nil)

	dispatch(s, `{"type":"new_message","message":{"id":2,"sender_id":5,"content":"second","created_at":"2026-08-30T12:00:02Z"}}`)
	dispatch(s, `{"type":"new_message","message":{"id":1,"sender_id":5,"content":"first","created_at":"2026-08-30T12:00:01Z"}}`)
	dispatch(s, `{"type":"new_message","message":{"id":3,"sender_id":5,"content":"third","created_at":"2026-08-30T12:00:03Z"}}`)

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("messages[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestInitialMessagesReplacesAndSorts(t *testing.T) {
	s, _ := newTestSession(t, nil)

	dispatch(s, `{"type":"new_message","message":{"id":9,"sender_id":5,"content":"stale","created_at":"2026-08-30T11:00:00Z"}}`)
	dispatch(s, `{"type":"initial_messages","messages":[
		{"id":2,"sender_id":5,"content":"b","created_at":"2026-08-30T12:00:02Z"},
		{"id":1,"sender_id":5,"content":"a","created_at":"2026-08-30T12:00:01Z"}
	]}`)

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (snapshot replaces)", len(msgs))
	}
	if msgs[0].Content != "a" || msgs[1].Content != "b" {
		t.Errorf("snapshot not sorted: %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestUnknownFrameLeavesStateUntouched(t *testing.T) {
	s, _ := newTestSession(t, nil)
	dispatch(s, `{"type":"new_message","message":{"id":1,"sender_id":5,"content":"a","created_at":"2026-08-30T12:00:01Z"}}`)

	dispatch(s, `{"type":"not_a_real_type","user_id":5,"status":"online"}`)

	if got := len(s.Messages()); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
	if got := len(s.TypingUsers()); got != 0 {
		t.Errorf("typing users = %d, want 0", got)
	}
	if got := s.PresenceFor(5); got != PresenceOffline {
		t.Errorf("presence = %q, want offline", got)
	}
}

func TestTypingFrameFromSelfIgnored(t *testing.T) {
	s, _ := newTestSession(t, nil)

	dispatch(s, `{"type":"typing","user_id":1,"username":"bran"}`)
	if got := len(s.TypingUsers()); got != 0 {
		t.Fatalf("local user's own typing frame registered (%d entries)", got)
	}

	dispatch(s, `{"type":"typing","user_id":2,"username":"mira"}`)
	users := s.TypingUsers()
	if len(users) != 1 || users[0].Username != "mira" {
		t.Fatalf("typing users = %+v", users)
	}
}

func TestPresenceFrameUpdatesAggregator(t *testing.T) {
	s, _ := newTestSession(t, nil)

	dispatch(s, `{"type":"user_online_status","user_id":2,"status":"online"}`)
	dispatch(s, `{"type":"user_online_status","user_id":2,"status":"idle"}`)

	if got := s.PresenceFor(2); got != PresenceIdle {
		t.Errorf("presence = %q, want idle", got)
	}
	if got := s.PresenceFor(3); got != PresenceOffline {
		t.Errorf("unseen user presence = %q, want offline", got)
	}
}

func TestSendTypingDebounce(t *testing.T) {
	s, ft := newTestSession(t, nil)
	s.cfg.TypingDebounce = 50 * time.Millisecond

	for i := 0; i < 5; i++ {
		s.SendTyping()
	}
	if got := len(ft.sentFrames()); got != 1 {
		t.Fatalf("burst of SendTyping produced %d frames, want 1", got)
	}

	time.Sleep(70 * time.Millisecond)
	s.SendTyping()
	if got := len(ft.sentFrames()); got != 2 {
		t.Fatalf("got %d typing frames after debounce window, want 2", got)
	}
}

func TestUploadFailureMarksMessageFailed(t *testing.T) {
	s, ft := newTestSession(t, &fakeUploader{err: fmt.Errorf("boom")})

	err := s.SendMessage(context.Background(), "with file", []string{"/tmp/map.png"})
	if err == nil {
		t.Fatal("expected an upload error")
	}

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Status != StatusFailed {
		t.Fatalf("messages = %+v, want one failed message", msgs)
	}
	if got := len(ft.sentFrames()); got != 0 {
		t.Fatalf("frame was sent despite upload failure (%d frames)", got)
	}
}

func TestUploadedFileIDsTravelWithFrame(t *testing.T) {
	s, ft := newTestSession(t, &fakeUploader{ids: []string{"f1", "f2"}})

	if err := s.SendMessage(context.Background(), "docs", []string{"a.pdf", "b.pdf"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	sent := ft.sentFrames()
	if len(sent) != 1 {
		t.Fatalf("got %d frames, want 1", len(sent))
	}
	f := sent[0].(sendMessageFrame)
	if len(f.Files) != 2 || f.Files[0] != "f1" || f.Files[1] != "f2" {
		t.Fatalf("frame files = %v", f.Files)
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "send_message" {
		t.Errorf("wire type = %v", decoded["type"])
	}
}

func TestSendFailureMarksMessageFailed(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ft.failSend = true

	err := s.SendMessage(context.Background(), "lost", nil)
	if err == nil {
		t.Fatal("expected a send error")
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Status != StatusFailed {
		t.Fatalf("messages = %+v, want one failed message", msgs)
	}
}

func TestCloseClearsConversationScopedState(t *testing.T) {
	s, ft := newTestSession(t, nil)

	dispatch(s, `{"type":"typing","user_id":2,"username":"mira"}`)
	dispatch(s, `{"type":"user_online_status","user_id":2,"status":"online"}`)

	s.Close()

	if got := len(s.TypingUsers()); got != 0 {
		t.Errorf("typing users = %d after Close, want 0", got)
	}
	if got := s.PresenceFor(2); got != PresenceOffline {
		t.Errorf("presence = %q after Close, want offline", got)
	}
	if got := ft.State(); got != StateDisconnected {
		t.Errorf("transport state = %v after Close, want disconnected", got)
	}
}

func TestAbnormalCloseSchedulesSingleReconnect(t *testing.T) {
	s, ft := newTestSession(t, nil)

	// A flurry of abnormal closes must produce exactly one reconnect.
	s.onAbnormalClose(1006)
	s.onAbnormalClose(1006)
	s.onAbnormalClose(1006)

	time.Sleep(60 * time.Millisecond)
	if got := ft.connectCount(); got != 1 {
		t.Fatalf("observed %d connect attempts, want 1", got)
	}
}

func TestNoReconnectAfterClose(t *testing.T) {
	s, ft := newTestSession(t, nil)

	s.Close()
	s.onAbnormalClose(1006)

	time.Sleep(60 * time.Millisecond)
	if got := ft.connectCount(); got != 0 {
		t.Fatalf("observed %d connect attempts after Close, want 0", got)
	}
}
