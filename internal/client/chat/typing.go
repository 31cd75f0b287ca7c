package chat

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays visible without a
// refreshing frame.
const DefaultTypingTTL = 3 * time.Second

// TypingUser is one entry in the "currently typing" set.
type TypingUser struct {
	UserID   int64
	Username string
	seen     time.Time
}

// TypingAggregator keeps the time-bounded set of users typing in the current
// conversation. Entries expire TTL after their last refresh. The aggregator
// is conversation-scoped and must be cleared when the conversation changes.
type TypingAggregator struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[int64]TypingUser
	timer    *time.Timer
	now      func() time.Time
	onChange func()
}

// NewTypingAggregator builds an aggregator with the given TTL. A zero ttl
// falls back to DefaultTypingTTL. onChange, if non-nil, fires after entries
// expire so the owner can re-render; it is never called with the lock held.
func NewTypingAggregator(ttl time.Duration, onChange func()) *TypingAggregator {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingAggregator{
		ttl:      ttl,
		entries:  make(map[int64]TypingUser),
		now:      time.Now,
		onChange: onChange,
	}
}

// Touch upserts a typing entry and restarts its countdown.
func (a *TypingAggregator) Touch(userID int64, username string) {
	a.mu.Lock()
	a.entries[userID] = TypingUser{UserID: userID, Username: username, seen: a.now()}
	a.scheduleLocked(a.ttl)
	a.mu.Unlock()
}

// scheduleLocked arms the sweep timer if none is pending. Exactly one timer
// exists at a time; sweeps rearm it while entries remain.
func (a *TypingAggregator) scheduleLocked(d time.Duration) {
	if a.timer != nil {
		return
	}
	a.timer = time.AfterFunc(d, a.sweep)
}

func (a *TypingAggregator) sweep() {
	a.mu.Lock()
	a.timer = nil
	now := a.now()
	removed := false
	var next time.Duration
	for id, e := range a.entries {
		age := now.Sub(e.seen)
		if age >= a.ttl {
			delete(a.entries, id)
			removed = true
			continue
		}
		if left := a.ttl - age; next == 0 || left < next {
			next = left
		}
	}
	if len(a.entries) > 0 {
		a.scheduleLocked(next)
	}
	notify := removed && a.onChange != nil
	a.mu.Unlock()

	if notify {
		a.onChange()
	}
}

// Users returns the live entries sorted by username for stable rendering.
// Expired entries are filtered even if the sweep has not fired yet.
func (a *TypingAggregator) Users() []TypingUser {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	out := make([]TypingUser, 0, len(a.entries))
	for _, e := range a.entries {
		if now.Sub(e.seen) < a.ttl {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Clear drops all entries and any pending sweep. Called on conversation
// switch so indicators never leak across conversations.
func (a *TypingAggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[int64]TypingUser)
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// FormatTyping renders the typing set for display.
func FormatTyping(users []TypingUser) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", users[0].Username)
	case 2:
		return fmt.Sprintf("%s and %s are typing...", users[0].Username, users[1].Username)
	default:
		return fmt.Sprintf("%s and %d others are typing...", users[0].Username, len(users)-1)
	}
}
