package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// BroadcastTask fans one rendered line out to the members of a room.
type BroadcastTask struct {
	Room          string
	Message       string
	Sender        string
	ExcludeSender bool
}

// Pipeline drains broadcast tasks with a fixed pool of workers.
// Each task is delivered to the room's membership at delivery time, not at enqueue time.
type Pipeline struct {
	state   *State
	mail    Mailboxes
	queue   *Queue[BroadcastTask]
	workers int
	log     *zerolog.Logger

	wg        sync.WaitGroup
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewPipeline creates a pipeline with the given number of workers (at least one).
func NewPipeline(state *State, mail Mailboxes, workers int, logger *zerolog.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Pipeline{
		state:   state,
		mail:    mail,
		queue:   NewQueue[BroadcastTask](),
		workers: workers,
		log:     logger,
	}
}

// Enqueue hands a task to the workers. Returns false once the pipeline is stopping.
func (p *Pipeline) Enqueue(task BroadcastTask) bool {
	return p.queue.Push(task)
}

// Start launches the workers. They exit when ctx is done or after Stop drains the queue.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Msg("broadcast pipeline started")
}

// Stop closes the queue and waits for the workers to finish.
func (p *Pipeline) Stop() {
	p.queue.Close()
	p.wg.Wait()
	p.log.Info().
		Int64("delivered", p.delivered.Load()).
		Int("pending", p.queue.Len()).
		Msg("broadcast pipeline stopped")
}

// Pending returns the number of queued tasks.
func (p *Pipeline) Pending() int {
	return p.queue.Len()
}

// Delivered returns the number of lines handed to mailboxes.
func (p *Pipeline) Delivered() int64 {
	return p.delivered.Load()
}

// Dropped returns the number of lines that could not be delivered.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pipeline) work(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		task, ok := p.queue.Pop(ctx)
		if !ok {
			p.log.Debug().Int("worker", id).Msg("broadcast worker stopped")
			return
		}
		p.deliver(task)
	}
}

func (p *Pipeline) deliver(task BroadcastTask) {
	p.state.WithReadAccess(func(v ReadView) {
		for _, id := range v.Members(task.Room) {
			if task.ExcludeSender && id == task.Sender {
				continue
			}
			if err := p.mail.Deliver(id, task.Message); err != nil {
				p.dropped.Add(1)
				if !errors.Is(err, ErrNoMailbox) {
					p.log.Warn().Err(err).Str("conn_id", id).Str("room", task.Room).Msg("broadcast delivery failed")
				}
				continue
			}
			p.delivered.Add(1)
		}
	})
}
