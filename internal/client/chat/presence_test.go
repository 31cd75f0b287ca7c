package chat

import "testing"

func TestPresenceDefaultsToOffline(t *testing.T) {
	p := NewPresenceAggregator()
	if got := p.Get(99); got != PresenceOffline {
		t.Fatalf("unknown user presence = %q, want offline", got)
	}
}

func TestPresenceLastWriteWins(t *testing.T) {
	p := NewPresenceAggregator()
	p.Set(5, PresenceOnline)
	p.Set(5, PresenceIdle)
	p.Set(5, PresenceOffline)
	p.Set(5, PresenceOnline)

	if got := p.Get(5); got != PresenceOnline {
		t.Fatalf("presence = %q, want online", got)
	}
}

func TestPresenceRejectsInvalidStatus(t *testing.T) {
	p := NewPresenceAggregator()
	p.Set(5, PresenceIdle)
	if p.Set(5, PresenceStatus("haunted")) {
		t.Error("invalid status was accepted")
	}
	if got := p.Get(5); got != PresenceIdle {
		t.Fatalf("presence = %q, want idle after invalid update", got)
	}
}

func TestPresenceReset(t *testing.T) {
	p := NewPresenceAggregator()
	p.Set(1, PresenceOnline)
	p.Reset()
	if got := p.Get(1); got != PresenceOffline {
		t.Fatalf("presence = %q after Reset, want offline", got)
	}
	if got := len(p.Snapshot()); got != 0 {
		t.Fatalf("snapshot has %d entries after Reset, want 0", got)
	}
}
