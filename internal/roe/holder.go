package roe

import (
	"sync"
	"time"
)

// Holder is the versioned home of the current RoE snapshot. Replacing the
// document goes through Replace, which bumps the version; readers get a
// consistent snapshot with a single pointer load and are never blocked by a
// reload in progress.
type Holder struct {
	mu      sync.RWMutex
	current *Snapshot
	version int
}

// NewHolder creates an empty Holder. Until Replace is called the holder has
// no snapshot and every scope check fails closed.
func NewHolder() *Holder {
	return &Holder{}
}

// Replace installs a new snapshot, assigns it the next version, and returns
// that version.
func (h *Holder) Replace(snap *Snapshot) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version++
	snap.Version = h.version
	snap.LoadedAt = time.Now().UTC()
	h.current = snap
	return h.version
}

// Current returns the active snapshot, or nil when none has been loaded.
func (h *Holder) Current() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Version returns the version of the active snapshot, 0 when empty.
func (h *Holder) Version() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}
