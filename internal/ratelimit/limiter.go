// Package ratelimit implements the per-connection fixed-window limiter that
// guards sendMessage.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultWindow = time.Second
	DefaultLimit  = 5
)

// Limiter tracks one fixed window per connection id.
// ARCHITECTURAL DISCOVERY: the map lock only guards membership, each window
// has its own lock so bursts on one connection never contend with others
type Limiter struct {
	window time.Duration
	limit  int

	mu      sync.RWMutex
	windows map[string]*Window
}

// Window is the rate state of a single connection.
type Window struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// New creates a limiter allowing limit events per window. Non-positive
// arguments fall back to the defaults.
func New(window time.Duration, limit int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{
		window:  window,
		limit:   limit,
		windows: make(map[string]*Window),
	}
}

// Track creates an empty window for connID if none exists.
func (l *Limiter) Track(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.windows[connID]; !ok {
		l.windows[connID] = &Window{}
	}
}

// Forget discards connID's window.
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	delete(l.windows, connID)
	l.mu.Unlock()
}

// Allow records one event for connID at now and reports whether it is within
// the limit. A rejected event still counts toward the current window.
func (l *Limiter) Allow(connID string, now time.Time) bool {
	w := l.windowFor(connID)

	w.mu.Lock()
	defer w.mu.Unlock()

	// FUNCTIONAL DISCOVERY: an empty window has a zero start, so the first
	// event always lands in the reset branch
	if now.Sub(w.windowStart) >= l.window {
		w.count = 1
		w.windowStart = now
		return true
	}

	w.count++
	return w.count <= l.limit
}

func (l *Limiter) windowFor(connID string) *Window {
	l.mu.RLock()
	w, ok := l.windows[connID]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[connID]; !ok {
		w = &Window{}
		l.windows[connID] = w
	}
	return w
}

// Snapshot returns connID's current count and window start.
func (l *Limiter) Snapshot(connID string) (count int, windowStart time.Time, ok bool) {
	l.mu.RLock()
	w, ok := l.windows[connID]
	l.mu.RUnlock()
	if !ok {
		return 0, time.Time{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count, w.windowStart, true
}

// Len returns how many connections have rate state.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Limit returns the configured events per window.
func (l *Limiter) Limit() int { return l.limit }
