// Package presence keeps the participant view of one document session.
package presence

import (
	"sync"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// Register maps participant keys to presence records. Snapshots replace the
// view; joins, updates and leaves are applied as deltas in arrival order.
// A delta applied after a snapshot always overrides that snapshot's value
// for its key.
type Register struct {
	mu   sync.RWMutex
	view map[string]domain.Presence
}

// NewRegister creates an empty register.
func NewRegister() *Register {
	return &Register{view: make(map[string]domain.Presence)}
}

// ApplySnapshot replaces the whole view. Safe to call repeatedly with the
// same or overlapping data.
func (r *Register) ApplySnapshot(state map[string]domain.Presence) {
	view := domain.ClonePresenceMap(state)
	r.mu.Lock()
	r.view = view
	r.mu.Unlock()
}

// ApplyJoin records a participant.
func (r *Register) ApplyJoin(key string, p domain.Presence) {
	r.put(key, p)
}

// ApplyUpdate replaces a participant's record. An update for a key not yet
// seen is accepted as a join.
func (r *Register) ApplyUpdate(key string, p domain.Presence) {
	r.put(key, p)
}

// ApplyLeave removes a participant. Unknown keys are ignored.
func (r *Register) ApplyLeave(key string) {
	r.mu.Lock()
	delete(r.view, key)
	r.mu.Unlock()
}

// CurrentView returns a copy of the participant view.
func (r *Register) CurrentView() map[string]domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.ClonePresenceMap(r.view)
}

// Get returns one participant's record.
func (r *Register) Get(key string) (domain.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.view[key]
	return p, ok
}

// Len returns the number of participants.
func (r *Register) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.view)
}

func (r *Register) put(key string, p domain.Presence) {
	if key == "" {
		return
	}
	if p.Cursor != nil {
		c := *p.Cursor
		p.Cursor = &c
	}
	r.mu.Lock()
	r.view[key] = p
	r.mu.Unlock()
}
