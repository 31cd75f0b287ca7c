package chat

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// ReconnectPolicy governs whether and when a dropped connection is reopened.
// Delays grow exponentially from Base up to Max, with ±Jitter fraction of
// random spread so a fleet of clients does not reconnect in lockstep.
type ReconnectPolicy struct {
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int
}

// DefaultReconnectPolicy matches the observed 3s first retry, then backs off.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Base:        3 * time.Second,
		Max:         60 * time.Second,
		Multiplier:  2,
		Jitter:      0.5,
		MaxAttempts: 10,
	}
}

// Delay computes the wait before the given attempt (0-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 3 * time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= mult
		if p.Max > 0 && d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// reconnector owns the single pending reconnect timer for a session. However
// many abnormal closes arrive, at most one timer is armed at any time.
type reconnector struct {
	policy ReconnectPolicy
	log    *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	attempts int
	stopped  bool
}

func newReconnector(policy ReconnectPolicy, log *slog.Logger) *reconnector {
	return &reconnector{policy: policy, log: log}
}

// Schedule arms a reconnect attempt running fn after the backoff delay.
// No-op when a timer is already pending, when the reconnector has been
// stopped, or when the attempt ceiling is reached.
func (r *reconnector) Schedule(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.timer != nil {
		return
	}
	if r.policy.MaxAttempts > 0 && r.attempts >= r.policy.MaxAttempts {
		r.log.Warn("reconnect attempts exhausted", "attempts", r.attempts)
		return
	}
	delay := r.policy.Delay(r.attempts)
	r.attempts++
	r.log.Info("scheduling reconnect", "attempt", r.attempts, "delay", delay)
	r.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.timer = nil
		stopped := r.stopped
		r.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

// Pending reports whether a reconnect timer is currently armed.
func (r *reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// Reset clears the attempt counter after a successful connect.
func (r *reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
}

// Stop cancels any pending timer and prevents future scheduling. Called on
// conversation switch and session close.
func (r *reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
