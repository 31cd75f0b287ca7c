package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tavernhq/tavernmsg/internal/obs"
)

func newTestClient(convID, userID int64, username string) *Client {
	c := &Client{
		Log:      obs.Discard(),
		Send:     make(chan []byte, 16),
		UserID:   userID,
		Username: username,
		ConvID:   convID,
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c
}

type presenceFrame struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

// drainPresence collects every queued frame on a client as presence frames.
func drainPresence(t *testing.T, c *Client) []presenceFrame {
	t.Helper()
	var out []presenceFrame
	for {
		select {
		case data := <-c.Send:
			var f presenceFrame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestJoinBroadcastsOnlineAndTellsJoinerAboutPeers(t *testing.T) {
	h := NewHub(time.Minute, obs.Discard())
	alice := newTestClient(1, 1, "alice")
	bob := newTestClient(1, 2, "bob")

	h.add(alice)
	h.add(bob)

	// Alice hears bob come online.
	got := drainPresence(t, alice)
	if len(got) != 2 {
		t.Fatalf("alice got %d frames, want 2 (own online + bob online)", len(got))
	}
	last := got[len(got)-1]
	if last.Type != "user_online_status" || last.UserID != 2 || last.Status != "online" {
		t.Errorf("unexpected frame for alice: %+v", last)
	}

	// Bob was told alice is already here, then heard his own online.
	bobGot := drainPresence(t, bob)
	if len(bobGot) != 2 {
		t.Fatalf("bob got %d frames, want 2", len(bobGot))
	}
	if bobGot[0].UserID != 1 || bobGot[0].Status != "online" {
		t.Errorf("expected bob to learn alice is online, got %+v", bobGot[0])
	}
}

func TestSecondSocketForSameUserIsQuiet(t *testing.T) {
	h := NewHub(time.Minute, obs.Discard())
	alice := newTestClient(1, 1, "alice")
	bob1 := newTestClient(1, 2, "bob")
	bob2 := newTestClient(1, 2, "bob")

	h.add(alice)
	h.add(bob1)
	drainPresence(t, alice)

	h.add(bob2)
	if got := drainPresence(t, alice); len(got) != 0 {
		t.Errorf("second socket for the same user rebroadcast presence: %+v", got)
	}
}

func TestLeaveBroadcastsOfflineOnlyForLastSocket(t *testing.T) {
	h := NewHub(time.Minute, obs.Discard())
	alice := newTestClient(1, 1, "alice")
	bob1 := newTestClient(1, 2, "bob")
	bob2 := newTestClient(1, 2, "bob")

	h.add(alice)
	h.add(bob1)
	h.add(bob2)
	drainPresence(t, alice)

	h.remove(bob1)
	if got := drainPresence(t, alice); len(got) != 0 {
		t.Errorf("offline broadcast while user still has a socket: %+v", got)
	}

	h.remove(bob2)
	got := drainPresence(t, alice)
	if len(got) != 1 || got[0].UserID != 2 || got[0].Status != "offline" {
		t.Errorf("expected one offline frame for bob, got %+v", got)
	}
}

func TestFanOutSkipsExcludedClient(t *testing.T) {
	h := NewHub(time.Minute, obs.Discard())
	alice := newTestClient(1, 1, "alice")
	bob := newTestClient(1, 2, "bob")
	other := newTestClient(2, 3, "carol")

	h.add(alice)
	h.add(bob)
	h.add(other)
	drainPresence(t, alice)
	drainPresence(t, bob)
	drainPresence(t, other)

	h.fanOut(broadcastMsg{convID: 1, data: []byte(`{"type":"typing"}`), exclude: bob})

	if len(alice.Send) != 1 {
		t.Errorf("alice got %d frames, want 1", len(alice.Send))
	}
	if len(bob.Send) != 0 {
		t.Error("excluded sender received its own broadcast")
	}
	if len(other.Send) != 0 {
		t.Error("broadcast leaked into another conversation")
	}
}

func TestSweepMarksQuietClientsIdle(t *testing.T) {
	h := NewHub(50*time.Millisecond, obs.Discard())
	alice := newTestClient(1, 1, "alice")
	bob := newTestClient(1, 2, "bob")

	h.add(alice)
	h.add(bob)
	drainPresence(t, alice)
	drainPresence(t, bob)

	bob.lastActive.Store(time.Now().Add(-time.Second).UnixNano())
	h.sweepIdle()

	got := drainPresence(t, alice)
	if len(got) != 1 || got[0].UserID != 2 || got[0].Status != "idle" {
		t.Errorf("expected one idle frame for bob, got %+v", got)
	}
	if !bob.idle.Load() {
		t.Error("expected bob marked idle")
	}

	// A second sweep must not repeat the downgrade.
	h.sweepIdle()
	if got := drainPresence(t, alice); len(got) != 0 {
		t.Errorf("idle rebroadcast on second sweep: %+v", got)
	}
}
