package pipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/core"
	"github.com/vovakirdan/pipechat-server/internal/proto"
)

const mailboxExt = ".txt"

// Mailboxes stores outbound lines in <dir>/<connId>.txt. Clients poll, read and
// truncate their own file.
type Mailboxes struct {
	dir string
	log *zerolog.Logger

	mu    sync.Mutex
	boxes map[string]*fileBox
}

type fileBox struct {
	mu     sync.Mutex
	path   string
	closed bool
}

var _ core.Mailboxes = (*Mailboxes)(nil)

// NewMailboxes creates the mailbox directory.
func NewMailboxes(dir string, logger *zerolog.Logger) (*Mailboxes, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create mailbox dir: %w", err)
	}
	return &Mailboxes{
		dir:   dir,
		log:   logger,
		boxes: make(map[string]*fileBox),
	}, nil
}

// Path returns the file backing the mailbox of id.
func (m *Mailboxes) Path(id string) string {
	return filepath.Join(m.dir, id+mailboxExt)
}

// Open creates the mailbox file. Existing content is kept.
func (m *Mailboxes) Open(id string) error {
	if err := proto.ValidateConnID(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.boxes[id]; ok {
		return nil
	}
	path := m.Path(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("create mailbox %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("create mailbox %s: %w", id, err)
	}
	m.boxes[id] = &fileBox{path: path}
	return nil
}

// Owns reports whether id has an open mailbox.
func (m *Mailboxes) Owns(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.boxes[id]
	return ok
}

// Deliver appends one line. Writes to the same mailbox are serialized.
func (m *Mailboxes) Deliver(id, line string) error {
	m.mu.Lock()
	box, ok := m.boxes[id]
	m.mu.Unlock()
	if !ok {
		return core.ErrNoMailbox
	}

	box.mu.Lock()
	defer box.mu.Unlock()
	if box.closed {
		return core.ErrNoMailbox
	}

	// Open created the file; a missing file means it was released or removed.
	f, err := os.OpenFile(box.path, os.O_APPEND|os.O_WRONLY, 0o666)
	if errors.Is(err, os.ErrNotExist) {
		return core.ErrNoMailbox
	}
	if err != nil {
		return fmt.Errorf("open mailbox %s: %w", id, err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write mailbox %s: %w", id, err)
	}
	return f.Close()
}

// Close deletes the mailbox file.
func (m *Mailboxes) Close(id string) error {
	m.mu.Lock()
	box, ok := m.boxes[id]
	delete(m.boxes, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	// Wait for an in-flight write before removing the file.
	box.mu.Lock()
	defer box.mu.Unlock()
	box.closed = true
	if err := os.Remove(box.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove mailbox %s: %w", id, err)
	}
	return nil
}

// IDs returns the ids with an open mailbox, sorted.
func (m *Mailboxes) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.boxes))
	for id := range m.boxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cleanup removes every mailbox file in the directory and then the directory itself.
func (m *Mailboxes) Cleanup() error {
	m.mu.Lock()
	m.boxes = make(map[string]*fileBox)
	m.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(m.dir, "*"+mailboxExt))
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			m.log.Warn().Err(err).Str("path", f).Msg("remove mailbox file")
		}
	}
	if err := os.Remove(m.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove mailbox dir: %w", err)
	}
	return nil
}
