package chat

import (
	"testing"
	"time"
)

func TestTypingEntryExpires(t *testing.T) {
	a := NewTypingAggregator(50*time.Millisecond, nil)

	a.Touch(7, "mira")
	if got := len(a.Users()); got != 1 {
		t.Fatalf("got %d typing users, want 1", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := len(a.Users()); got != 0 {
		t.Fatalf("got %d typing users after TTL, want 0", got)
	}
}

func TestTypingRefreshExtendsEntry(t *testing.T) {
	a := NewTypingAggregator(60*time.Millisecond, nil)

	a.Touch(7, "mira")
	time.Sleep(40 * time.Millisecond)
	a.Touch(7, "mira")
	time.Sleep(40 * time.Millisecond)

	// 80ms after the first touch but only 40ms after the refresh.
	if got := len(a.Users()); got != 1 {
		t.Fatalf("got %d typing users, want 1 (entry was refreshed)", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(a.Users()); got != 0 {
		t.Fatalf("got %d typing users, want 0 after refresh expired", got)
	}
}

func TestTypingExpiryNotifies(t *testing.T) {
	changed := make(chan struct{}, 1)
	a := NewTypingAggregator(30*time.Millisecond, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	a.Touch(1, "bran")
	select {
	case <-changed:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expiry never fired the change callback")
	}
}

func TestTypingClear(t *testing.T) {
	a := NewTypingAggregator(time.Minute, nil)
	a.Touch(1, "bran")
	a.Touch(2, "mira")

	a.Clear()
	if got := len(a.Users()); got != 0 {
		t.Fatalf("got %d typing users after Clear, want 0", got)
	}
}

func TestTypingUsersSorted(t *testing.T) {
	a := NewTypingAggregator(time.Minute, nil)
	a.Touch(3, "zed")
	a.Touch(1, "anna")
	a.Touch(2, "mira")

	users := a.Users()
	if len(users) != 3 {
		t.Fatalf("got %d users, want 3", len(users))
	}
	if users[0].Username != "anna" || users[1].Username != "mira" || users[2].Username != "zed" {
		t.Errorf("users not sorted by name: %v", users)
	}
}

func TestFormatTyping(t *testing.T) {
	u := func(names ...string) []TypingUser {
		out := make([]TypingUser, len(names))
		for i, n := range names {
			out[i] = TypingUser{UserID: int64(i + 1), Username: n}
		}
		return out
	}

	cases := []struct {
		users []TypingUser
		want  string
	}{
		{u(), ""},
		{u("anna"), "anna is typing..."},
		{u("anna", "mira"), "anna and mira are typing..."},
		{u("anna", "mira", "zed"), "anna and 2 others are typing..."},
		{u("anna", "mira", "zed", "bran"), "anna and 3 others are typing..."},
	}
	for _, c := range cases {
		if got := FormatTyping(c.users); got != c.want {
			t.Errorf("FormatTyping(%d users) = %q, want %q", len(c.users), got, c.want)
		}
	}
}
