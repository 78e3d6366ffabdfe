package security

import (
	"sync"
	"time"
)

// MaxViolations is the number of consecutive sliding-window violations a
// connection may accumulate before it is forcibly closed.
const MaxViolations = 3

// Limiter tracks per-(key, action) request timestamps over trailing time
// windows. Windows for distinct actions are independent.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the limiter's clock. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow records a request for (key, action) and reports whether it fits
// within max requests per window. Entries older than the window are pruned
// on each call; a saturated window rejects without recording.
func (l *Limiter) Allow(key, action string, max int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key + "_" + action
	now := l.now()
	cutoff := now.Add(-window)

	kept := l.windows[k][:0]
	for _, ts := range l.windows[k] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= max {
		l.windows[k] = kept
		return false
	}

	l.windows[k] = append(kept, now)
	return true
}

// Sweep prunes windows whose newest entry is older than maxAge and returns
// the number of windows dropped. Meant to run on a slow periodic timer so
// the map does not grow with every address ever seen.
func (l *Limiter) Sweep(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	dropped := 0
	for k, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, k)
			dropped++
		}
	}
	return dropped
}
