// Package registry tracks which participants are currently connected to
// which room. It is the only mutable state shared between connection
// handlers, so every operation is safe under concurrent use.
package registry

import "sync"

// Namespace separates the two broadcast domains that may share a room slug.
// Signaling and chat connections for the same room must never see each
// other's traffic, so the namespace is part of the room key rather than a
// string prefix on the slug.
type Namespace int

const (
	Signaling Namespace = iota
	Chat
)

// Handle is an opaque, send-capable reference to one live connection.
type Handle interface {
	// Enqueue buffers an outbound frame for delivery. It reports false when
	// the connection is gone or its buffer is full, and never blocks.
	Enqueue(frame []byte) bool
}

type roomKey struct {
	ns   Namespace
	slug string
}

// Registry is a process-wide map from room to the set of connected
// participants. Room entries are created on first join and removed when the
// last participant leaves, so memory is bounded by active rooms only.
type Registry struct {
	mu    sync.RWMutex
	rooms map[roomKey]map[int64]Handle
}

func New() *Registry {
	return &Registry{rooms: make(map[roomKey]map[int64]Handle)}
}

// Join inserts or replaces the entry for (room, participant). A second
// connection from the same participant replaces the first: last connect wins,
// and the registry never holds two handles for the same pair.
func (r *Registry) Join(ns Namespace, slug string, participant int64, h Handle) {
	key := roomKey{ns, slug}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		room = make(map[int64]Handle)
		r.rooms[key] = room
	}
	room[participant] = h
}

// Leave removes the entry for (room, participant) if present and deletes the
// room once it is empty. Leaving a room or participant that does not exist is
// a no-op: disconnect handling may race with itself or run for a connection
// that never finished joining.
func (r *Registry) Leave(ns Namespace, slug string, participant int64) {
	key := roomKey{ns, slug}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		return
	}
	delete(room, participant)
	if len(room) == 0 {
		delete(r.rooms, key)
	}
}

// Get returns the live handle for one participant, for targeted delivery.
func (r *Registry) Get(ns Namespace, slug string, participant int64) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.rooms[roomKey{ns, slug}][participant]
	return h, ok
}

// Snapshot returns a copy of the room's current membership. Broadcast loops
// iterate the copy, so a concurrent join or leave can never tear the
// iteration mid-broadcast.
func (r *Registry) Snapshot(ns Namespace, slug string) map[int64]Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomKey{ns, slug}]
	out := make(map[int64]Handle, len(room))
	for id, h := range room {
		out[id] = h
	}
	return out
}

// Members returns the participant ids currently present in the room.
func (r *Registry) Members(ns Namespace, slug string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomKey{ns, slug}]
	out := make([]int64, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}

// RoomCount reports how many room entries currently exist across both
// namespaces. Used by tests and the health endpoint.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
