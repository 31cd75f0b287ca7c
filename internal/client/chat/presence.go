package chat

import "sync"

// PresenceAggregator holds the live availability of users in the current
// session. Updates come only from inbound user_online_status frames;
// last write wins per user. Users never seen read as offline.
type PresenceAggregator struct {
	mu      sync.RWMutex
	entries map[int64]PresenceStatus
}

func NewPresenceAggregator() *PresenceAggregator {
	return &PresenceAggregator{entries: make(map[int64]PresenceStatus)}
}

// Set records a presence update. Values outside online/idle/offline are
// dropped so a misbehaving server cannot poison the map.
func (p *PresenceAggregator) Set(userID int64, status PresenceStatus) bool {
	switch status {
	case PresenceOnline, PresenceIdle, PresenceOffline:
	default:
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[userID] = status
	return true
}

func (p *PresenceAggregator) Get(userID int64) PresenceStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.entries[userID]; ok {
		return s
	}
	return PresenceOffline
}

func (p *PresenceAggregator) Snapshot() map[int64]PresenceStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int64]PresenceStatus, len(p.entries))
	for id, s := range p.entries {
		out[id] = s
	}
	return out
}

func (p *PresenceAggregator) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[int64]PresenceStatus)
}
