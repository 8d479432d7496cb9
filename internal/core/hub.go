package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures a Hub.
type Options struct {
	Broadcasters     int
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Hub owns the shared state and runs the router, broadcast workers and liveness monitor.
type Hub struct {
	state    *State
	pipeline *Pipeline
	router   *Router
	monitor  *Monitor
	log      *zerolog.Logger
}

// RoomInfo is a point-in-time view of a room.
type RoomInfo struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// HubStats contains runtime counters.
type HubStats struct {
	Clients             int   `json:"clients"`
	Rooms               int   `json:"rooms"`
	QueueDepth          int   `json:"queue_depth"`
	CommandsHandled     int64 `json:"commands_handled"`
	BroadcastsDelivered int64 `json:"broadcasts_delivered"`
	BroadcastsDropped   int64 `json:"broadcasts_dropped"`
	Evictions           int64 `json:"evictions"`
}

// NewHub creates a hub delivering through mail.
func NewHub(opts Options, mail Mailboxes, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 30 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}

	state := NewState()
	pipeline := NewPipeline(state, mail, opts.Broadcasters, logger)
	return &Hub{
		state:    state,
		pipeline: pipeline,
		router:   NewRouter(state, pipeline, mail, opts.Now, logger),
		monitor:  NewMonitor(state, mail, opts.HeartbeatTimeout, opts.SweepInterval, opts.Now, logger),
		log:      logger,
	}
}

// Run processes commands from in until ctx is done or in is closed, then stops the
// workers and the monitor. Queued broadcasts are drained before Run returns.
func (h *Hub) Run(ctx context.Context, in <-chan Command) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Workers outlive ctx so that Stop can drain the queue.
	h.pipeline.Start(context.WithoutCancel(ctx))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.monitor.Run(ctx)
	}()

	h.router.Run(ctx, in)

	cancel()
	h.pipeline.Stop()
	wg.Wait()
}

// Sweep runs one liveness sweep immediately.
func (h *Hub) Sweep() []string {
	return h.monitor.Sweep()
}

// State exposes the shared state store.
func (h *Hub) State() *State {
	return h.state
}

// Rooms returns every known room with its members' display names, sorted.
func (h *Hub) Rooms() []RoomInfo {
	var out []RoomInfo
	h.state.WithReadAccess(func(v ReadView) {
		for _, name := range v.Rooms() {
			out = append(out, roomInfo(v, name))
		}
	})
	return out
}

// Room returns a single room. The boolean is false if the room was never joined.
func (h *Hub) Room(name string) (RoomInfo, bool) {
	var (
		info RoomInfo
		ok   bool
	)
	h.state.WithReadAccess(func(v ReadView) {
		if ok = v.HasRoom(name); ok {
			info = roomInfo(v, name)
		}
	})
	return info, ok
}

// Stats returns current counters.
func (h *Hub) Stats() HubStats {
	stats := HubStats{
		QueueDepth:          h.pipeline.Pending(),
		CommandsHandled:     h.router.Handled(),
		BroadcastsDelivered: h.pipeline.Delivered(),
		BroadcastsDropped:   h.pipeline.Dropped(),
		Evictions:           h.monitor.Evictions(),
	}
	h.state.WithReadAccess(func(v ReadView) {
		stats.Clients = v.ClientCount()
		stats.Rooms = len(v.Rooms())
	})
	return stats
}

func roomInfo(v ReadView, name string) RoomInfo {
	members := make([]string, 0)
	for _, id := range v.Members(name) {
		if rec, ok := v.Client(id); ok {
			members = append(members, rec.Name)
		}
	}
	sort.Strings(members)
	return RoomInfo{Name: name, Members: members}
}
