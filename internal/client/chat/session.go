package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTypingDebounce limits how often sendTyping actually emits a frame.
const DefaultTypingDebounce = 500 * time.Millisecond

// EventKind labels a session change notification.
type EventKind int

const (
	EventMessages EventKind = iota
	EventTyping
	EventPresence
	EventConnection
	EventErr
)

// Event is a coalesced change notification for the UI loop.
type Event struct {
	Kind EventKind
	Err  error
}

// Uploader sends files ahead of a message and returns their server IDs.
// The REST client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, conversationID int64, paths []string) ([]string, error)
}

// Config carries everything a session needs for one open conversation.
type Config struct {
	ServerURL      string
	Token          string
	UserID         int64
	Username       string
	ConversationID int64

	Reconnect      ReconnectPolicy
	TypingTTL      time.Duration
	TypingDebounce time.Duration

	Uploader Uploader
	Logger   *slog.Logger
}

// Session is the facade the UI talks to for one conversation: it owns the
// transport, reconnect policy, dispatch router, and the presence and typing
// aggregators. All session state is mutated here and nowhere else.
type Session struct {
	cfg      Config
	log      *slog.Logger
	conn     transport
	router   *Router
	presence *PresenceAggregator
	typing   *TypingAggregator
	recon    *reconnector

	mu       sync.Mutex
	messages []Message
	closed   bool

	// sendMu serializes whole SendMessage calls: upload plus frame write.
	// Concurrent sends to the same conversation never interleave.
	sendMu     sync.Mutex
	typingMu   sync.Mutex
	lastTyping time.Time

	events chan Event
}

// NewSession wires up a session for one conversation. Call Open to connect.
func NewSession(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.TypingDebounce <= 0 {
		cfg.TypingDebounce = DefaultTypingDebounce
	}
	if cfg.Reconnect == (ReconnectPolicy{}) {
		cfg.Reconnect = DefaultReconnectPolicy()
	}

	s := &Session{
		cfg:      cfg,
		log:      log,
		presence: NewPresenceAggregator(),
		recon:    newReconnector(cfg.Reconnect, log),
		events:   make(chan Event, 32),
	}
	s.typing = NewTypingAggregator(cfg.TypingTTL, func() { s.notify(EventTyping) })
	s.router = NewRouter(Handlers{
		InitialMessages: s.onInitialMessages,
		NewMessage:      s.onNewMessage,
		MessageSent:     s.onMessageSent,
		Typing:          s.onTyping,
		Presence:        s.onPresence,
		Error:           s.onError,
	}, log)

	t := NewTransport(cfg.ServerURL, log)
	t.OnOpen = s.onOpen
	t.OnFrame = s.router.Dispatch
	t.OnClose = s.onAbnormalClose
	s.conn = t
	return s
}

// Open starts the connection for the configured conversation.
func (s *Session) Open() {
	s.conn.Connect(s.cfg.ConversationID, s.cfg.Token)
	s.notify(EventConnection)
}

// Close tears the session down: the pending reconnect timer is cancelled,
// the socket closes with a normal closure so no reconnect fires, and the
// typing set is cleared so nothing leaks into the next conversation.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.recon.Stop()
	s.conn.Close(1000, "conversation closed")
	s.typing.Clear()
	s.presence.Reset()
	s.notify(EventConnection)
}

// Events delivers change notifications. Slow consumers drop events rather
// than block the socket read loop; state accessors always reflect the
// latest state regardless.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) notify(kind EventKind) {
	select {
	case s.events <- Event{Kind: kind}:
	default:
	}
}

func (s *Session) notifyErr(err error) {
	select {
	case s.events <- Event{Kind: EventErr, Err: err}:
	default:
	}
}

// SendMessage uploads any files, appends an optimistic message, then sends
// one frame carrying content plus attachment IDs. Upload or send failure
// marks the message failed and returns the error; there is no automatic
// retry. Calls are serialized per session.
func (s *Session) SendMessage(ctx context.Context, content string, files []string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	local := Message{
		LocalID:        uuid.NewString(),
		ConversationID: s.cfg.ConversationID,
		SenderID:       s.cfg.UserID,
		SenderUsername: s.cfg.Username,
		Content:        content,
		MessageType:    "text",
		Status:         StatusSending,
		CreatedAt:      time.Now(),
	}
	s.mu.Lock()
	s.insertLocked(local)
	s.mu.Unlock()
	s.notify(EventMessages)

	var fileIDs []string
	if len(files) > 0 {
		if s.cfg.Uploader == nil {
			s.markFailed(local.LocalID)
			return fmt.Errorf("send message: no uploader configured")
		}
		ids, err := s.cfg.Uploader.Upload(ctx, s.cfg.ConversationID, files)
		if err != nil {
			s.markFailed(local.LocalID)
			return fmt.Errorf("upload attachments: %w", err)
		}
		fileIDs = ids
	}

	frame := sendMessageFrame{Type: TypeSendMessage, Content: content, Files: fileIDs}
	if err := s.conn.Send(frame); err != nil {
		s.markFailed(local.LocalID)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendTyping emits a typing frame, debounced so per-keystroke callers do not
// flood the socket.
func (s *Session) SendTyping() {
	s.typingMu.Lock()
	now := time.Now()
	if now.Sub(s.lastTyping) < s.cfg.TypingDebounce {
		s.typingMu.Unlock()
		return
	}
	s.lastTyping = now
	s.typingMu.Unlock()

	// Best effort; the transport logs dropped frames itself.
	_ = s.conn.Send(typingOutFrame{Type: TypeTyping})
}

// Messages returns a copy of the message list in non-decreasing timestamp
// order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// TypingUsers returns the live typing set.
func (s *Session) TypingUsers() []TypingUser {
	return s.typing.Users()
}

// PresenceFor reports a user's availability, defaulting to offline.
func (s *Session) PresenceFor(userID int64) PresenceStatus {
	return s.presence.Get(userID)
}

// ConnectionState reports the transport state for the UI banner.
func (s *Session) ConnectionState() ConnState {
	return s.conn.State()
}

// --- transport callbacks ---

func (s *Session) onOpen() {
	s.recon.Reset()
	s.notify(EventConnection)
}

func (s *Session) onAbnormalClose(code int) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	s.notify(EventConnection)
	if closed {
		return
	}
	s.log.Info("connection lost", "code", code)
	s.recon.Schedule(func() {
		s.conn.Connect(s.cfg.ConversationID, s.cfg.Token)
	})
}

// --- frame handlers ---

func (s *Session) onInitialMessages(f InitialMessagesFrame) {
	msgs := make([]Message, len(f.Messages))
	copy(msgs, f.Messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	for i := range msgs {
		if msgs[i].Status == "" {
			msgs[i].Status = StatusSent
		}
	}
	s.mu.Lock()
	s.messages = msgs
	s.mu.Unlock()
	s.notify(EventMessages)
}

func (s *Session) onNewMessage(f NewMessageFrame) {
	m := f.Message
	if m.Status == "" {
		m.Status = StatusSent
	}

	s.mu.Lock()
	// An echo of our own optimistic message reconciles instead of
	// duplicating.
	if m.SenderID == s.cfg.UserID {
		if i := s.pendingIndexLocked(m.Content); i >= 0 {
			s.messages[i].ID = m.ID
			s.messages[i].Status = m.Status
			s.messages[i].Attachments = m.Attachments
			if !m.CreatedAt.IsZero() {
				s.messages[i].CreatedAt = m.CreatedAt
			}
			s.resortLocked()
			s.mu.Unlock()
			s.notify(EventMessages)
			return
		}
	}
	s.insertLocked(m)
	s.mu.Unlock()
	s.notify(EventMessages)
}

func (s *Session) onMessageSent(f MessageSentFrame) {
	status := f.Status
	if status == "" {
		status = StatusSent
	}
	s.mu.Lock()
	i := s.oldestSendingLocked()
	if i >= 0 {
		s.messages[i].ID = f.ID
		s.messages[i].Status = status
		if !f.CreatedAt.IsZero() {
			s.messages[i].CreatedAt = f.CreatedAt
		}
		s.resortLocked()
	}
	s.mu.Unlock()
	if i >= 0 {
		s.notify(EventMessages)
	}
}

func (s *Session) onTyping(f TypingFrame) {
	if f.UserID == s.cfg.UserID {
		return
	}
	s.typing.Touch(f.UserID, f.Username)
	s.notify(EventTyping)
}

func (s *Session) onPresence(f PresenceFrame) {
	if !s.presence.Set(f.UserID, f.Status) {
		s.log.Warn("ignoring invalid presence status", "status", string(f.Status))
		return
	}
	s.notify(EventPresence)
}

func (s *Session) onError(f ErrorFrame) {
	s.notifyErr(fmt.Errorf("server error: %s", f.Error))
}

// --- message list helpers (s.mu held) ---

// insertLocked keeps messages in non-decreasing timestamp order, placing
// equal timestamps after existing ones so arrival order breaks ties.
func (s *Session) insertLocked(m Message) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(m.CreatedAt)
	})
	s.messages = append(s.messages, Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
}

func (s *Session) resortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}

// pendingIndexLocked finds the oldest optimistic message matching content.
func (s *Session) pendingIndexLocked(content string) int {
	for i, m := range s.messages {
		if m.Status == StatusSending && m.ID == 0 && m.Content == content {
			return i
		}
	}
	return -1
}

func (s *Session) oldestSendingLocked() int {
	for i, m := range s.messages {
		if m.Status == StatusSending && m.ID == 0 {
			return i
		}
	}
	return -1
}

func (s *Session) markFailed(localID string) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].LocalID == localID {
			s.messages[i].Status = StatusFailed
			break
		}
	}
	s.mu.Unlock()
	s.notify(EventMessages)
}
