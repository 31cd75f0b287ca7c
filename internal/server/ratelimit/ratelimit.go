package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter caps concurrent socket connections per IP and auth attempts
// per IP per minute.
type RateLimiter struct {
	connections  map[string]int         // IP -> connection count
	authAttempts map[string][]time.Time // IP -> timestamps of auth attempts
	mu           sync.RWMutex
	maxConns     int
	maxAuth      int
	done         chan struct{}
}

func New(maxConns, maxAuth int) *RateLimiter {
	if maxConns <= 0 {
		maxConns = 10
	}
	if maxAuth <= 0 {
		maxAuth = 5
	}
	rl := &RateLimiter{
		connections:  make(map[string]int),
		authAttempts: make(map[string][]time.Time),
		maxConns:     maxConns,
		maxAuth:      maxAuth,
		done:         make(chan struct{}),
	}

	// Cleanup old auth attempts every minute
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()

	return rl
}

// Stop halts the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	for ip, attempts := range rl.authAttempts {
		var valid []time.Time
		for _, t := range attempts {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) == 0 {
			delete(rl.authAttempts, ip)
		} else {
			rl.authAttempts[ip] = valid
		}
	}
}

func (rl *RateLimiter) CanConnect(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.connections[ip] < rl.maxConns
}

func (rl *RateLimiter) AddConnection(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.connections[ip]++
}

func (rl *RateLimiter) RemoveConnection(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.connections[ip]--
	if rl.connections[ip] <= 0 {
		delete(rl.connections, ip)
	}
}

func (rl *RateLimiter) CanAuth(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	var recent []time.Time
	for _, t := range rl.authAttempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	rl.authAttempts[ip] = recent

	if len(recent) >= rl.maxAuth {
		return false
	}

	rl.authAttempts[ip] = append(rl.authAttempts[ip], time.Now())
	return true
}

func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for reverse proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
