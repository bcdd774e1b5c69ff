package univibe

import (
	"context"
	"sync"
	"time"
)

// inflightEntry is one in-flight request shared between an owner and any
// number of waiters arriving with the same request key.
type inflightEntry struct {
	mu      sync.Mutex
	result  *Result
	err     error
	done    chan struct{}
	waiters int
}

// inflightRegistry coalesces concurrent requests with identical keys so that
// at most one network call per key is in flight at any instant.
type inflightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{
		entries: make(map[string]*inflightEntry),
	}
}

// GetOrCreate returns the entry for key. The second return value is true when
// the caller created the entry and therefore owns the network call; false
// callers wait on the shared entry instead of issuing their own.
func (r *inflightRegistry) GetOrCreate(key string) (*inflightEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[key]; exists {
		entry.mu.Lock()
		entry.waiters++
		entry.mu.Unlock()
		return entry, false
	}

	entry := &inflightEntry{
		done:    make(chan struct{}),
		waiters: 1,
	}
	r.entries[key] = entry
	return entry, true
}

// Complete publishes the settled result to all waiters and removes the entry.
// Removal is unconditional and happens exactly once, on success and failure
// alike; cache or throttle bookkeeping failures must not skip it.
func (r *inflightRegistry) Complete(key string, result *Result, err error) {
	r.mu.Lock()
	entry, exists := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	entry.result = result
	entry.err = err
	entry.mu.Unlock()
	close(entry.done)
}

// Flush drops all entries, settling each with a session-cleared error so
// waiters unblock immediately instead of running out their wait bound. An
// entry removed here is invisible to Complete, so the done channel has
// exactly one closer even when an owner races the flush.
func (r *inflightRegistry) Flush() {
	r.mu.Lock()
	dropped := r.entries
	r.entries = make(map[string]*inflightEntry)
	r.mu.Unlock()

	for _, entry := range dropped {
		entry.mu.Lock()
		entry.err = &ClassifiedError{
			Kind:    KindUnauthorized,
			Message: "session cleared before the request settled",
			Cause:   ErrSessionExpired,
		}
		entry.mu.Unlock()
		close(entry.done)
	}
}

// waiterCount reports how many callers are attached to this entry, the
// owner included.
func (e *inflightEntry) waiterCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiters
}

// Len reports the number of requests currently in flight.
func (r *inflightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Wait blocks until the owning request settles, the context cancels, or the
// wait bound elapses. The third return value is false when the bound expired:
// the caller should abandon the shared entry and issue a fresh request rather
// than hang behind a stuck owner, at the cost of one redundant network call.
func (e *inflightEntry) Wait(ctx context.Context, bound time.Duration) (*Result, error, bool) {
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case <-e.done:
		e.mu.Lock()
		result := e.result
		err := e.err
		e.mu.Unlock()
		return result, err, true
	case <-ctx.Done():
		return nil, classifyTransportError(ctx.Err()), true
	case <-timer.C:
		return nil, nil, false
	}
}
