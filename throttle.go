package univibe

import (
	"sync"
	"time"
)

// throttle enforces a minimum spacing between repeated requests to the same
// request key. Distinct keys never delay each other. The last-issued stamp is
// recorded only when a request settles, so a burst of fast failures does not
// shorten the next wait.
type throttle struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastIssued  map[string]time.Time
}

func newThrottle(minInterval time.Duration) *throttle {
	return &throttle{
		minInterval: minInterval,
		lastIssued:  make(map[string]time.Time),
	}
}

// Delay returns how long the caller must wait before issuing a request with
// this key, or zero when the key is cold or the interval has already elapsed.
func (t *throttle) Delay(key string) time.Duration {
	if t == nil || t.minInterval <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	last, exists := t.lastIssued[key]
	if !exists {
		return 0
	}

	elapsed := time.Since(last)
	if elapsed >= t.minInterval {
		return 0
	}
	return t.minInterval - elapsed
}

// MarkCompleted records that a request for key just settled.
func (t *throttle) MarkCompleted(key string) {
	if t == nil || t.minInterval <= 0 {
		return
	}

	t.mu.Lock()
	t.lastIssued[key] = time.Now()
	t.mu.Unlock()
}

// Reset forgets all throttle records.
func (t *throttle) Reset() {
	if t == nil {
		return
	}

	t.mu.Lock()
	t.lastIssued = make(map[string]time.Time)
	t.mu.Unlock()
}
