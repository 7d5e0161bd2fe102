// Package agentproc tracks live agent worker handles. The kill switch uses
// the registry for its process-termination path; the authorization gate uses
// it to pause agents whose sensitive actions expired undecided.
package agentproc

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handle is the core's grip on one agent worker, independent of the bus.
// Terminate must be safe to call more than once.
type Handle interface {
	Terminate(ctx context.Context) error
}

// HandleFunc adapts a function to a Handle.
type HandleFunc func(ctx context.Context) error

// Terminate implements Handle.
func (f HandleFunc) Terminate(ctx context.Context) error { return f(ctx) }

type entry struct {
	handle      Handle
	paused      bool
	pauseReason string
	pausedAt    time.Time
}

// Registry is a concurrent map of agent ID to worker handle plus pause
// state. Safe for use from an arbitrary number of agent goroutines.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*entry)}
}

// Register adds or replaces an agent handle.
func (r *Registry) Register(agentID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agentID] = &entry{handle: h}
}

// Deregister removes an agent.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// IsRegistered reports whether the agent ID is known.
func (r *Registry) IsRegistered(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// IDs returns all registered agent IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pause marks an agent paused. A paused agent keeps running but the gate
// refuses its sensitive actions until an operator resumes it.
func (r *Registry) Pause(agentID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return false
	}
	e.paused = true
	e.pauseReason = reason
	e.pausedAt = time.Now().UTC()
	return true
}

// Resume clears an agent's paused state.
func (r *Registry) Resume(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return false
	}
	e.paused = false
	e.pauseReason = ""
	return true
}

// IsPaused reports the agent's pause state and reason.
func (r *Registry) IsPaused(agentID string) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[agentID]
	if !ok {
		return false, ""
	}
	return e.paused, e.pauseReason
}

// Paused returns the IDs of all paused agents, sorted.
func (r *Registry) Paused() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.agents {
		if e.paused {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// TerminateAll invokes every handle's Terminate concurrently and returns the
// IDs that failed or did not finish before ctx expired. It never blocks on
// one hung handle: each termination runs in its own goroutine and the
// collection honors the context deadline.
func (r *Registry) TerminateAll(ctx context.Context) (unresolved []string) {
	r.mu.RLock()
	handles := make(map[string]Handle, len(r.agents))
	for id, e := range r.agents {
		handles[id] = e.handle
	}
	r.mu.RUnlock()

	type outcome struct {
		id  string
		err error
	}
	results := make(chan outcome, len(handles))

	for id, h := range handles {
		go func(id string, h Handle) {
			if h == nil {
				results <- outcome{id: id, err: context.Canceled}
				return
			}
			results <- outcome{id: id, err: h.Terminate(ctx)}
		}(id, h)
	}

	pending := make(map[string]bool, len(handles))
	for id := range handles {
		pending[id] = true
	}

	for range handles {
		select {
		case res := <-results:
			if res.err == nil {
				delete(pending, res.id)
			}
		case <-ctx.Done():
			for id := range pending {
				unresolved = append(unresolved, id)
			}
			sort.Strings(unresolved)
			return unresolved
		}
	}

	for id := range pending {
		unresolved = append(unresolved, id)
	}
	sort.Strings(unresolved)
	return unresolved
}
