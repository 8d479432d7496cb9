package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Monitor evicts clients whose last heartbeat is older than the timeout.
// Eviction performs the same cleanup as QUIT but sends no leave notice to former roommates.
type Monitor struct {
	state    *State
	mail     Mailboxes
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	log      *zerolog.Logger

	evictions atomic.Int64
}

// NewMonitor creates a liveness monitor. A nil clock means time.Now.
func NewMonitor(state *State, mail Mailboxes, timeout, interval time.Duration, now func() time.Time, logger *zerolog.Logger) *Monitor {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Monitor{
		state:    state,
		mail:     mail,
		timeout:  timeout,
		interval: interval,
		now:      now,
		log:      logger,
	}
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("timeout", m.timeout).Dur("interval", m.interval).Msg("heartbeat monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Int64("evictions", m.evictions.Load()).Msg("heartbeat monitor stopped")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Evictions returns the number of clients evicted so far.
func (m *Monitor) Evictions() int64 {
	return m.evictions.Load()
}

// Sweep evicts every stale client and returns their connection ids.
func (m *Monitor) Sweep() []string {
	var candidates []string
	m.state.WithReadAccess(func(v ReadView) {
		candidates = v.StaleClients(m.now(), m.timeout)
	})
	if len(candidates) == 0 {
		return nil
	}

	var evicted []string
	m.state.WithWriteAccess(func(reg *Registry) {
		now := m.now()
		for _, id := range candidates {
			rec, ok := reg.Client(id)
			// A heartbeat may have landed between the two acquisitions.
			if !ok || now.Sub(rec.LastSeen()) <= m.timeout {
				continue
			}
			reg.RemoveClient(id)
			if err := m.mail.Close(id); err != nil {
				m.log.Warn().Err(err).Str("conn_id", id).Msg("close mailbox")
			}
			m.log.Info().Str("conn_id", id).Str("user", rec.Name).Msg("heartbeat timeout, client evicted")
			evicted = append(evicted, id)
		}
	})
	m.evictions.Add(int64(len(evicted)))
	return evicted
}
