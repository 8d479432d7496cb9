package http

import (
	"sort"
	"sync"

	"github.com/vovakirdan/pipechat-server/internal/core"
)

// Sessions is the mailbox set for WebSocket connections. A session's mailbox exists
// from accept until the socket closes, so replies sent before LOGIN are delivered.
type Sessions struct {
	buffer int

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id  string
	out chan string

	mu       sync.Mutex
	released bool
	done     chan struct{}
}

var _ core.Mailboxes = (*Sessions)(nil)

// NewSessions creates an empty set whose per-session send buffer holds buffer lines.
func NewSessions(buffer int) *Sessions {
	if buffer < 1 {
		buffer = 1
	}
	return &Sessions{
		buffer:   buffer,
		sessions: make(map[string]*session),
	}
}

func (s *Sessions) register(id string) *session {
	sess := &session{
		id:   id,
		out:  make(chan string, s.buffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

func (s *Sessions) unregister(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.release()
	}
}

func (s *Sessions) get(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Owns reports whether id belongs to a connected WebSocket session.
func (s *Sessions) Owns(id string) bool {
	_, ok := s.get(id)
	return ok
}

// Len returns the number of connected sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs returns connected session ids, sorted.
func (s *Sessions) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Open succeeds for connected sessions that have not been released.
func (s *Sessions) Open(id string) error {
	sess, ok := s.get(id)
	if !ok || sess.isReleased() {
		return core.ErrNoMailbox
	}
	return nil
}

// Deliver queues a line for the session's writer without blocking.
func (s *Sessions) Deliver(id, line string) error {
	sess, ok := s.get(id)
	if !ok {
		return core.ErrNoMailbox
	}
	return sess.push(line)
}

// Close releases the mailbox. The writer flushes what is queued and closes the socket.
func (s *Sessions) Close(id string) error {
	if sess, ok := s.get(id); ok {
		sess.release()
	}
	return nil
}

func (s *session) push(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return core.ErrNoMailbox
	}
	select {
	case s.out <- line:
		return nil
	default:
		return core.ErrMailboxFull
	}
}

func (s *session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		s.released = true
		close(s.done)
	}
}

func (s *session) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
