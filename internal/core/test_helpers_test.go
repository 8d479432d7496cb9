package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// memMailboxes is an in-memory Mailboxes used by the tests.
type memMailboxes struct {
	mu     sync.Mutex
	open   map[string]bool
	lines  map[string][]string
	closed map[string]int
}

func newMemMailboxes() *memMailboxes {
	return &memMailboxes{
		open:   make(map[string]bool),
		lines:  make(map[string][]string),
		closed: make(map[string]int),
	}
}

// connect opens a mailbox the way a connection-oriented transport would before LOGIN.
func (m *memMailboxes) connect(id string) {
	_ = m.Open(id)
}

func (m *memMailboxes) Open(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[id] = true
	return nil
}

func (m *memMailboxes) Deliver(id, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open[id] {
		return ErrNoMailbox
	}
	m.lines[id] = append(m.lines[id], line)
	return nil
}

func (m *memMailboxes) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open[id] {
		m.closed[id]++
	}
	delete(m.open, id)
	return nil
}

func (m *memMailboxes) isOpen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open[id]
}

func (m *memMailboxes) snapshot(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines[id]...)
}

func (m *memMailboxes) contains(id, want string) bool {
	for _, line := range m.snapshot(id) {
		if line == want {
			return true
		}
	}
	return false
}

// mustLine waits until the mailbox of id has received want.
func mustLine(t *testing.T, m *memMailboxes, id, want string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.contains(id, want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected line %q for %s, got %q", want, id, m.snapshot(id))
}

// mustNotLine waits briefly and fails if the mailbox of id received a line containing substr.
func mustNotLine(t *testing.T, m *memMailboxes, id, substr string) {
	t.Helper()

	time.Sleep(50 * time.Millisecond)
	for _, line := range m.snapshot(id) {
		if strings.Contains(line, substr) {
			t.Fatalf("unexpected line %q for %s", line, id)
		}
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testHub runs a Hub over in-memory mailboxes for the duration of the test.
type testHub struct {
	hub   *Hub
	mail  *memMailboxes
	clock *fakeClock
	in    chan Command
}

func startTestHub(t *testing.T) *testHub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHub{
		mail:  newMemMailboxes(),
		clock: newFakeClock(),
		in:    make(chan Command, 64),
	}
	th.hub = NewHub(Options{
		Broadcasters:     4,
		HeartbeatTimeout: 30 * time.Second,
		// Sweeps are triggered explicitly in tests.
		SweepInterval: time.Hour,
		Now:           th.clock.Now,
	}, th.mail, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		th.hub.Run(ctx, th.in)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return th
}

func (th *testHub) send(id, name string, args ...string) {
	th.in <- NewCommand(id, name, args...)
}

// login connects id, logs in and waits for the welcome line.
func (th *testHub) login(t *testing.T, id, name string) {
	t.Helper()
	th.mail.connect(id)
	th.send(id, "LOGIN", name)
	mustLine(t, th.mail, id, "SYSTEM: Welcome, "+name+"!")
}

// join joins a room and waits for the confirmation.
func (th *testHub) join(t *testing.T, id, room string) {
	t.Helper()
	th.send(id, "JOIN", room)
	mustLine(t, th.mail, id, "SYSTEM: You joined "+room)
}

// sync waits until every command sent so far has been handled by the router.
func (th *testHub) sync(t *testing.T) {
	t.Helper()
	const probe = "sync-probe"
	th.mail.connect(probe)
	room := "sync-" + time.Now().Format("150405.000000000")
	th.send(probe, "WHO", room)
	mustLine(t, th.mail, probe, "SYSTEM: Room "+room+" is empty")
}
