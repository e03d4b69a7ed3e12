package usecase

import (
	"context"
	"sync"
)

type streamHandle struct {
	cancel context.CancelFunc
}

// CancelRegistry tracks the live stream per session so a later request
// can cancel it. Cancellation is cooperative: the derived context is
// checked between chunks and carried into suspended provider calls.
type CancelRegistry struct {
	mu      sync.Mutex
	handles map[string]*streamHandle
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{handles: make(map[string]*streamHandle)}
}

// Register derives a cancellable context for sessionID and returns it
// with its done function. Registering over an existing handle replaces
// it without cancelling: the stale handle belongs to a stream that has
// already lost the session. done deregisters exactly once and only
// removes the handle it created.
func (r *CancelRegistry) Register(parent context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	h := &streamHandle{cancel: cancel}

	r.mu.Lock()
	r.handles[sessionID] = h
	r.mu.Unlock()

	var once sync.Once
	done := func() {
		once.Do(func() {
			r.mu.Lock()
			if r.handles[sessionID] == h {
				delete(r.handles, sessionID)
			}
			r.mu.Unlock()
			cancel()
		})
	}
	return ctx, done
}

// Cancel stops the live stream for sessionID. It reports true iff a
// handle existed and had not already finished.
func (r *CancelRegistry) Cancel(sessionID string) bool {
	r.mu.Lock()
	h, ok := r.handles[sessionID]
	if ok {
		delete(r.handles, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.cancel()
	return true
}

// Active returns the number of registered live streams.
func (r *CancelRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
