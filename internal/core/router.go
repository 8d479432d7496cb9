package core

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/proto"
)

const errCodeMailbox = "mailbox_unavailable"

// Router is the single dispatcher for inbound commands. Commands are handled one at a
// time in arrival order. LOGIN, JOIN, LEAVE and QUIT run under exclusive access;
// HEARTBEAT, SAY, DM and WHO under shared access. Room fan-out is handed to the Pipeline.
type Router struct {
	state    *State
	pipeline *Pipeline
	mail     Mailboxes
	now      func() time.Time
	log      *zerolog.Logger

	handled atomic.Int64
}

// NewRouter creates a router over the given state, pipeline and mailboxes.
// A nil clock means time.Now.
func NewRouter(state *State, pipeline *Pipeline, mail Mailboxes, now func() time.Time, logger *zerolog.Logger) *Router {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{
		state:    state,
		pipeline: pipeline,
		mail:     mail,
		now:      now,
		log:      logger,
	}
}

// Run handles commands from in until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan Command) {
	r.log.Info().Msg("command router started")
	defer r.log.Info().Int64("handled", r.handled.Load()).Msg("command router stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-in:
			if !ok {
				return
			}
			r.Handle(cmd)
		}
	}
}

// Handled returns the number of commands processed so far.
func (r *Router) Handled() int64 {
	return r.handled.Load()
}

// Handle processes a single command. Failures are reported to the originating
// connection and never stop the router.
func (r *Router) Handle(cmd Command) {
	r.handled.Add(1)

	var err *CoreError
	switch cmd.Kind {
	case CommandLogin:
		err = r.login(cmd)
	case CommandHeartbeat:
		r.heartbeat(cmd)
	case CommandJoin:
		err = r.join(cmd)
	case CommandSay:
		err = r.say(cmd)
	case CommandDM:
		err = r.dm(cmd)
	case CommandWho:
		err = r.who(cmd)
	case CommandLeave:
		err = r.leave(cmd)
	case CommandQuit:
		r.quit(cmd)
	default:
		err = errUnknownCommand(cmd.Name)
	}

	if err != nil {
		r.log.Debug().Str("conn_id", cmd.ConnID).Str("command", cmd.Name).Str("code", err.Code).Msg(err.Message)
		r.send(cmd.ConnID, proto.PrefixError+err.Message)
	}
}

func (r *Router) login(cmd Command) *CoreError {
	if len(cmd.Args) < 1 || strings.TrimSpace(cmd.Args[0]) == "" {
		return errMissingArgs("LOGIN requires username")
	}
	name := strings.TrimSpace(cmd.Args[0])

	var err *CoreError
	r.state.WithWriteAccess(func(reg *Registry) {
		if openErr := r.mail.Open(cmd.ConnID); openErr != nil {
			r.log.Warn().Err(openErr).Str("conn_id", cmd.ConnID).Msg("open mailbox")
			err = coreError(errCodeMailbox, "Failed to open mailbox")
			return
		}
		reg.PutClient(newClientRecord(cmd.ConnID, name, r.now()))

		r.log.Info().Str("conn_id", cmd.ConnID).Str("user", name).Msg("client logged in")
		r.send(cmd.ConnID, proto.PrefixSystem+"Welcome, "+name+"!")
		r.send(cmd.ConnID, proto.PrefixSystem+"You are now connected as "+cmd.ConnID)
	})
	return err
}

func (r *Router) heartbeat(cmd Command) {
	now := r.now()
	r.state.WithReadAccess(func(v ReadView) {
		if rec, ok := v.Client(cmd.ConnID); ok {
			rec.Touch(now)
		}
	})
}

func (r *Router) join(cmd Command) *CoreError {
	if len(cmd.Args) < 1 || cmd.Args[0] == "" {
		return errMissingArgs("JOIN requires room name")
	}
	room := cmd.Args[0]

	var err *CoreError
	r.state.WithWriteAccess(func(reg *Registry) {
		rec, ok := reg.Client(cmd.ConnID)
		if !ok {
			err = errNotLoggedIn
			return
		}

		added := reg.Join(room, cmd.ConnID)
		r.send(cmd.ConnID, proto.PrefixSystem+"You joined "+room)
		if !added {
			return
		}

		r.log.Info().Str("user", rec.Name).Str("room", room).Msg("joined room")
		r.enqueue(BroadcastTask{
			Room:          room,
			Message:       proto.PrefixSystem + rec.Name + " joined the room",
			Sender:        cmd.ConnID,
			ExcludeSender: true,
		})
	})
	return err
}

func (r *Router) say(cmd Command) *CoreError {
	if len(cmd.Args) < 2 || cmd.Args[0] == "" || strings.TrimSpace(cmd.text(1)) == "" {
		return errMissingArgs("SAY requires room and message")
	}
	room := cmd.Args[0]
	text := cmd.text(1)

	var err *CoreError
	r.state.WithReadAccess(func(v ReadView) {
		rec, ok := v.Client(cmd.ConnID)
		if !ok {
			err = errNotLoggedIn
			return
		}
		if !v.IsMember(room, cmd.ConnID) {
			err = errNotInRoom(room)
			return
		}

		r.log.Debug().Str("user", rec.Name).Str("room", room).Msg("room message")
		r.enqueue(BroadcastTask{
			Room:    room,
			Message: "[" + room + "] " + rec.Name + ": " + text,
			Sender:  cmd.ConnID,
		})
	})
	return err
}

func (r *Router) dm(cmd Command) *CoreError {
	if len(cmd.Args) < 2 || cmd.Args[0] == "" || strings.TrimSpace(cmd.text(1)) == "" {
		return errMissingArgs("DM requires recipient and message")
	}
	target := cmd.Args[0]
	text := cmd.text(1)

	var err *CoreError
	r.state.WithReadAccess(func(v ReadView) {
		sender, ok := v.Client(cmd.ConnID)
		if !ok {
			err = errNotLoggedIn
			return
		}
		recipient, ok := v.ClientByName(target)
		if !ok {
			err = errUserNotFound(target)
			return
		}

		r.log.Debug().Str("user", sender.Name).Str("to", recipient.Name).Msg("direct message")
		r.send(recipient.ID, proto.PrefixDMFrom+sender.Name+"] "+text)
		r.send(cmd.ConnID, proto.PrefixDMTo+recipient.Name+"] "+text)
	})
	return err
}

func (r *Router) who(cmd Command) *CoreError {
	if len(cmd.Args) < 1 || cmd.Args[0] == "" {
		return errMissingArgs("WHO requires room name")
	}
	room := cmd.Args[0]

	var names []string
	r.state.WithReadAccess(func(v ReadView) {
		for _, id := range v.Members(room) {
			if rec, ok := v.Client(id); ok {
				names = append(names, rec.Name)
			}
		}
	})

	if len(names) == 0 {
		r.send(cmd.ConnID, proto.PrefixSystem+"Room "+room+" is empty")
		return nil
	}
	sort.Strings(names)
	r.send(cmd.ConnID, proto.PrefixSystem+"Members in "+room+": "+strings.Join(names, ", "))
	return nil
}

func (r *Router) leave(cmd Command) *CoreError {
	if len(cmd.Args) < 1 || cmd.Args[0] == "" {
		return errMissingArgs("LEAVE requires room name")
	}
	room := cmd.Args[0]

	var err *CoreError
	r.state.WithWriteAccess(func(reg *Registry) {
		rec, ok := reg.Client(cmd.ConnID)
		if !ok {
			return
		}

		removed, remaining := reg.Leave(room, cmd.ConnID)
		if !removed {
			// Not a member: report it instead of confirming a leave that did not happen,
			// and never broadcast a departure for a non-member.
			err = errNotInRoom(room)
			return
		}

		r.log.Info().Str("user", rec.Name).Str("room", room).Int("remaining", remaining).Msg("left room")
		r.send(cmd.ConnID, proto.PrefixSystem+"You left "+room)
		if remaining > 0 {
			r.enqueue(leftTask(room, rec))
		}
	})
	return err
}

func (r *Router) quit(cmd Command) {
	r.state.WithWriteAccess(func(reg *Registry) {
		rec, ok := reg.Client(cmd.ConnID)
		if !ok {
			return
		}

		for _, room := range reg.RemoveClient(cmd.ConnID) {
			r.enqueue(leftTask(room, rec))
		}

		r.log.Info().Str("conn_id", cmd.ConnID).Str("user", rec.Name).Msg("client disconnected")
		r.send(cmd.ConnID, proto.PrefixSystem+"Goodbye!")
		if err := r.mail.Close(cmd.ConnID); err != nil {
			r.log.Warn().Err(err).Str("conn_id", cmd.ConnID).Msg("close mailbox")
		}
	})
}

func leftTask(room string, rec *ClientRecord) BroadcastTask {
	return BroadcastTask{
		Room:          room,
		Message:       proto.PrefixSystem + rec.Name + " left the room",
		Sender:        rec.ID,
		ExcludeSender: true,
	}
}

func (r *Router) enqueue(task BroadcastTask) {
	if !r.pipeline.Enqueue(task) {
		r.log.Debug().Str("room", task.Room).Msg("pipeline stopped, broadcast dropped")
	}
}

// send is best-effort: a missing mailbox is silent, other failures are logged.
func (r *Router) send(id, line string) {
	if err := r.mail.Deliver(id, line); err != nil && !errors.Is(err, ErrNoMailbox) {
		r.log.Warn().Err(err).Str("conn_id", id).Msg("reply delivery failed")
	}
}
