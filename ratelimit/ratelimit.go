// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/syncmq/config"
	"golang.org/x/time/rate"
)

// IPRateLimiter limits transport requests per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter.
// r is requests per second, burst is the burst allowance.
func NewIPRateLimiter(r float64, burst int, cleanupInterval time.Duration) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from addr may proceed.
func (l *IPRateLimiter) Allow(addr net.Addr) bool {
	if addr == nil {
		return true
	}
	return l.AllowRemote(addr.String())
}

// AllowRemote is Allow for a "host:port" or bare host string, as found in
// http.Request.RemoteAddr.
func (l *IPRateLimiter) AllowRemote(remote string) bool {
	ip := hostOf(remote)
	if ip == "" {
		return true
	}

	l.mu.Lock()
	entry, exists := l.limiters[ip]
	if !exists {
		entry = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now().Add(-2 * l.cleanup))
		case <-l.stopCh:
			return
		}
	}
}

func (l *IPRateLimiter) removeStale(threshold time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, ip)
		}
	}
}

func (l *IPRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop stops the cleanup goroutine.
func (l *IPRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// QueueRateLimiter limits sends per queue. Limiters are created lazily and
// dropped when the queue is deleted.
type QueueRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewQueueRateLimiter creates a per-queue send limiter.
func NewQueueRateLimiter(sendRate float64, burst int) *QueueRateLimiter {
	return &QueueRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(sendRate),
		burst:    burst,
	}
}

// AllowSend reports whether a send on queueID may proceed.
func (l *QueueRateLimiter) AllowSend(queueID string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[queueID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[queueID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// RemoveQueue drops the limiter of a deleted queue.
func (l *QueueRateLimiter) RemoveQueue(queueID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, queueID)
}

// hostOf extracts the host part of a "host:port" string.
func hostOf(remote string) string {
	if remote == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

// Manager coordinates the send and request limiters. A disabled manager
// allows everything.
type Manager struct {
	queue    *QueueRateLimiter
	ip       *IPRateLimiter
	disabled bool

	// OnReject, when set, is called with "send" or "request" for every
	// rejection.
	OnReject func(scope string)
}

// NewManager creates a new rate limit manager.
func NewManager(cfg config.RateLimitConfig) *Manager {
	if !cfg.Enabled {
		return &Manager{disabled: true}
	}

	return &Manager{
		queue: NewQueueRateLimiter(cfg.Send.Rate, cfg.Send.Burst),
		ip:    NewIPRateLimiter(cfg.Request.Rate, cfg.Request.Burst, cfg.Request.CleanupInterval),
	}
}

// AllowSend implements queue.SendLimiter.
func (m *Manager) AllowSend(queueID string) bool {
	if m.disabled {
		return true
	}
	if !m.queue.AllowSend(queueID) {
		m.reject("send")
		return false
	}
	return true
}

// RemoveQueue implements queue.SendLimiter.
func (m *Manager) RemoveQueue(queueID string) {
	if m.disabled {
		return
	}
	m.queue.RemoveQueue(queueID)
}

// AllowRequest reports whether a request from remote may proceed.
func (m *Manager) AllowRequest(remote string) bool {
	if m.disabled {
		return true
	}
	if !m.ip.AllowRemote(remote) {
		m.reject("request")
		return false
	}
	return true
}

// Middleware rejects requests over the per-IP limit with 429.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	if m.disabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.AllowRequest(r.RemoteAddr) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) reject(scope string) {
	if m.OnReject != nil {
		m.OnReject(scope)
	}
}

// Stop stops the rate limiter manager and cleans up resources.
func (m *Manager) Stop() {
	if m.ip != nil {
		m.ip.Stop()
	}
}
