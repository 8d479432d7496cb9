package core

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ClientRecord is a logged-in connection.
type ClientRecord struct {
	ID   string
	Name string

	// lastSeen holds unix nanoseconds. Heartbeats update it under read access.
	lastSeen atomic.Int64
}

func newClientRecord(id, name string, now time.Time) *ClientRecord {
	rec := &ClientRecord{ID: id, Name: name}
	rec.Touch(now)
	return rec
}

// Touch refreshes the liveness timestamp.
func (c *ClientRecord) Touch(t time.Time) {
	c.lastSeen.Store(t.UnixNano())
}

// LastSeen returns the last liveness timestamp.
func (c *ClientRecord) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// ReadView is the read-only surface of the registries handed out under shared access.
type ReadView interface {
	// Client returns the record registered under id.
	Client(id string) (*ClientRecord, bool)
	// ClientByName returns the first record found with the given display name.
	// Names are not unique and map iteration has no defined order.
	ClientByName(name string) (*ClientRecord, bool)
	// IsMember reports whether id belongs to room.
	IsMember(room, id string) bool
	// Members returns the connection ids in room.
	Members(room string) []string
	// HasRoom reports whether room was ever joined.
	HasRoom(room string) bool
	// Rooms returns all known room names, sorted.
	Rooms() []string
	// ClientCount returns the number of logged-in clients.
	ClientCount() int
	// StaleClients returns ids whose last liveness signal is older than timeout.
	StaleClients(now time.Time, timeout time.Duration) []string
}

// Registry holds the client registry and the room registry.
// It is only reachable through State, which serializes access.
type Registry struct {
	clients map[string]*ClientRecord
	rooms   map[string]map[string]struct{}
}

func newRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*ClientRecord),
		rooms:   make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Client(id string) (*ClientRecord, bool) {
	rec, ok := r.clients[id]
	return rec, ok
}

func (r *Registry) ClientByName(name string) (*ClientRecord, bool) {
	for _, rec := range r.clients {
		if rec.Name == name {
			return rec, true
		}
	}
	return nil, false
}

func (r *Registry) IsMember(room, id string) bool {
	_, ok := r.rooms[room][id]
	return ok
}

func (r *Registry) Members(room string) []string {
	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (r *Registry) HasRoom(room string) bool {
	_, ok := r.rooms[room]
	return ok
}

func (r *Registry) Rooms() []string {
	out := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) ClientCount() int {
	return len(r.clients)
}

func (r *Registry) StaleClients(now time.Time, timeout time.Duration) []string {
	var stale []string
	for id, rec := range r.clients {
		if now.Sub(rec.LastSeen()) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}

// PutClient registers or replaces the record for rec.ID.
func (r *Registry) PutClient(rec *ClientRecord) {
	r.clients[rec.ID] = rec
}

// Join adds id to room, creating the room on first use.
// Returns true if id was not already a member.
func (r *Registry) Join(room, id string) bool {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[id]; exists {
		return false
	}
	members[id] = struct{}{}
	return true
}

// Leave removes id from room. Returns whether id was a member and how many
// members remain. Empty rooms are kept.
func (r *Registry) Leave(room, id string) (removed bool, remaining int) {
	members, ok := r.rooms[room]
	if !ok {
		return false, 0
	}
	if _, exists := members[id]; !exists {
		return false, len(members)
	}
	delete(members, id)
	return true, len(members)
}

// RemoveClient drops the record for id and its membership in every room.
// It returns the rooms id was removed from that still have members.
func (r *Registry) RemoveClient(id string) (occupied []string) {
	for name, members := range r.rooms {
		if _, ok := members[id]; !ok {
			continue
		}
		delete(members, id)
		if len(members) > 0 {
			occupied = append(occupied, name)
		}
	}
	delete(r.clients, id)
	sort.Strings(occupied)
	return occupied
}

// State guards the registries with a single readers-writer lock.
type State struct {
	mu  sync.RWMutex
	reg *Registry
}

// NewState returns an empty state store.
func NewState() *State {
	return &State{reg: newRegistry()}
}

// WithReadAccess runs fn under shared access. fn must not retain the view.
func (s *State) WithReadAccess(fn func(v ReadView)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.reg)
}

// WithWriteAccess runs fn under exclusive access. fn must not retain the registry.
func (s *State) WithWriteAccess(fn func(r *Registry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.reg)
}
