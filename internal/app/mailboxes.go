package app

import (
	"github.com/vovakirdan/pipechat-server/internal/core"
	"github.com/vovakirdan/pipechat-server/internal/transport/pipe"
	transporthttp "github.com/vovakirdan/pipechat-server/internal/transport/http"
)

// mailboxSet routes each connection to the transport that owns it. WebSocket sessions
// are registered on accept; any other id belongs to the file transport.
type mailboxSet struct {
	ws   *transporthttp.Sessions
	pipe *pipe.Mailboxes
}

var _ core.Mailboxes = (*mailboxSet)(nil)

func (m *mailboxSet) route(id string) core.Mailboxes {
	if m.ws != nil && m.ws.Owns(id) {
		return m.ws
	}
	if m.pipe != nil {
		return m.pipe
	}
	return nil
}

func (m *mailboxSet) Open(id string) error {
	if mb := m.route(id); mb != nil {
		return mb.Open(id)
	}
	return core.ErrNoMailbox
}

func (m *mailboxSet) Deliver(id, line string) error {
	if mb := m.route(id); mb != nil {
		return mb.Deliver(id, line)
	}
	return core.ErrNoMailbox
}

func (m *mailboxSet) Close(id string) error {
	if mb := m.route(id); mb != nil {
		return mb.Close(id)
	}
	return nil
}
