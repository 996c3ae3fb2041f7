package conntrack

import (
	"slices"
	"sync"
	"time"
)

// ID identifies a registered connection. IDs grow monotonically for the
// lifetime of a Registry and are never reused.
type ID uint64

// Connection is a point-in-time copy of a registry entry.
type Connection struct {
	ID       ID
	Handle   any
	Idle     bool
	OpenedAt time.Time
	// Requests counts the requests started on this connection so far.
	Requests uint64
}

type entry struct {
	handle   any
	idle     bool
	openedAt time.Time
	requests uint64
}

// Registry maps connection ids to their state.
type Registry struct {
	mu      sync.RWMutex
	entries map[ID]*entry
	lastID  ID
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[ID]*entry),
		now:     time.Now,
	}
}

// Register stores handle as an idle connection and returns its fresh id.
func (r *Registry) Register(handle any) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	r.entries[r.lastID] = &entry{
		handle:   handle,
		idle:     true,
		openedAt: r.now(),
	}

	return r.lastID
}

// MarkBusy flags id as serving a request. It reports false when id is not
// registered.
func (r *Registry) MarkBusy(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}

	e.idle = false
	e.requests++

	return true
}

// MarkIdle flags id as having no request in flight. It reports false when id
// is not registered.
func (r *Registry) MarkIdle(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}

	e.idle = true

	return true
}

// Remove deletes id. It reports whether an entry was actually removed, so
// callers can tell the first close from a repeated one.
func (r *Registry) Remove(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}

	delete(r.entries, id)

	return true
}

// Take removes id and returns the entry it held.
func (r *Registry) Take(id ID) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Connection{}, false
	}

	delete(r.entries, id)

	return e.connection(id), true
}

// TakeIdle removes id only if it is idle at the moment of the call. The check
// and the removal happen under one lock, so a connection that turned busy
// after a Snapshot is never taken.
//
// When id is registered but busy, the returned Connection describes it and ok
// is false. When id is unknown the zero Connection is returned.
func (r *Registry) TakeIdle(id ID) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Connection{}, false
	}

	if !e.idle {
		return e.connection(id), false
	}

	delete(r.entries, id)

	return e.connection(id), true
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id ID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Connection{}, false
	}

	return e.connection(id), true
}

// Snapshot returns copies of every registered connection ordered by id.
// Mutating the result has no effect on the registry.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()

	out := make([]Connection, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e.connection(id))
	}

	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Connection) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// BusyCount returns the number of registered connections with a request in flight.
func (r *Registry) BusyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	busy := 0

	for _, e := range r.entries {
		if !e.idle {
			busy++
		}
	}

	return busy
}

func (e *entry) connection(id ID) Connection {
	return Connection{
		ID:       id,
		Handle:   e.handle,
		Idle:     e.idle,
		OpenedAt: e.openedAt,
		Requests: e.requests,
	}
}
