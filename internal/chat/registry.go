package chat

import (
	"context"
	"sync"
)

// SessionKey builds the composite conversation identity. The NUL
// separator keeps distinct (root, id) pairs from ever colliding.
func SessionKey(workspaceRoot, conversationID string) string {
	return workspaceRoot + "\x00" + conversationID
}

type sessionEntry struct {
	cancel context.CancelFunc
}

// Registry is the process-wide table of in-flight sessions. It enforces
// the single-flight invariant: at most one live session per key.
type Registry struct {
	mu     sync.Mutex
	active map[string]*sessionEntry
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*sessionEntry)}
}

// Begin registers a new session under key, cancelling and discarding any
// prior session first. The check-and-replace happens under one lock with
// no blocking calls in between, so two sessions can never both observe
// themselves as sole owner of a key.
//
// The returned context is cancelled when the session is superseded or
// aborted. The returned release func must be called exactly once, on
// every exit path; it cancels the context and removes the entry, but
// only if the entry still belongs to this Begin call.
func (r *Registry) Begin(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	entry := &sessionEntry{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.active[key]; ok {
		prev.cancel()
	}
	r.active[key] = entry
	r.mu.Unlock()

	release := func() {
		cancel()
		r.mu.Lock()
		if cur, ok := r.active[key]; ok && cur == entry {
			delete(r.active, key)
		}
		r.mu.Unlock()
	}
	return ctx, release
}

// Cancel triggers cancellation of the session under key, if any, and
// removes it. Returns false when no session was active; callers may
// optimistically cancel a session that already finished.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.active[key]
	if !ok {
		return false
	}
	entry.cancel()
	delete(r.active, key)
	return true
}

// Active reports whether a session is currently registered under key.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}
