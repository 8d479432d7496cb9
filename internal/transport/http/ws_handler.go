package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/core"
	"github.com/vovakirdan/pipechat-server/internal/proto"
	"github.com/vovakirdan/pipechat-server/internal/utils"
)

const (
	writeTimeout = 5 * time.Second
	// maxFramesPerMessage bounds how many frame lines one text message may carry.
	maxFramesPerMessage = 32
)

var (
	errSessionReleased = errors.New("session released")
	errServerStopping  = errors.New("server stopping")
)

// WSOptions configures per-session limits.
type WSOptions struct {
	MaxLineBytes       int
	RateLimitPerMinute int
}

// WSHandler upgrades HTTP connections and bridges them to the command router.
type WSHandler struct {
	sessions *Sessions
	inbound  chan<- core.Command
	done     <-chan struct{}
	opts     WSOptions
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. Commands are pushed to inbound until done
// is closed.
func NewWSHandler(sessions *Sessions, inbound chan<- core.Command, done <-chan struct{}, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		inbound:  inbound,
		done:     done,
		opts:     opts,
		log:      logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	if h.opts.MaxLineBytes > 0 {
		conn.SetReadLimit(int64(h.opts.MaxLineBytes) * maxFramesPerMessage)
	}

	id := utils.NewConnectionID()
	sess := h.sessions.register(id)
	logger := h.log.With().Str("conn_id", id).Logger()
	logger.Debug().Msg("ws session opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess, newRateLimiter(h.opts.RateLimitPerMinute), &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess)
	}()

	err = <-errCh
	switch {
	case errors.Is(err, errSessionReleased):
		// The reader unblocks once the close handshake completes.
		conn.Close(websocket.StatusNormalClosure, "goodbye")
	case errors.Is(err, errServerStopping):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	cancel()
	<-errCh

	released := sess.isReleased()
	h.sessions.unregister(id)
	if !released {
		// The client went away without QUIT.
		h.push(core.NewCommand(id, "QUIT"))
	}

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errSessionReleased) && !errors.Is(err, errServerStopping) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
	logger.Debug().Bool("released", released).Msg("ws session closed")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session, limiter *rateLimiter, logger *zerolog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			h.reply(sess, proto.PrefixError+"Text frames only", logger)
			continue
		}

		for _, frame := range splitFrames(string(data)) {
			if !limiter.allow() {
				logger.Debug().Str("code", core.ErrCodeRateLimited).Msg("frame dropped")
				h.reply(sess, proto.PrefixError+"rate limit exceeded", logger)
				continue
			}

			cmd, err := frameToCommand(sess.id, frame, h.opts.MaxLineBytes)
			if err != nil {
				logger.Debug().Err(err).Msg("failed to map frame")
				h.reply(sess, frameErrorReply(err), logger)
				continue
			}

			select {
			case h.inbound <- cmd:
			case <-ctx.Done():
				return ctx.Err()
			case <-h.done:
				return errServerStopping
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		select {
		case line := <-sess.out:
			if err := writeLine(ctx, conn, line); err != nil {
				return err
			}
		case <-sess.done:
			for {
				select {
				case line := <-sess.out:
					if err := writeLine(ctx, conn, line); err != nil {
						return err
					}
				default:
					return errSessionReleased
				}
			}
		case <-h.done:
			return errServerStopping
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeLine(ctx context.Context, conn *websocket.Conn, line string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(line))
}

// reply sends a transport-level error straight to the session.
func (h *WSHandler) reply(sess *session, line string, logger *zerolog.Logger) {
	if err := sess.push(line); err != nil && !errors.Is(err, core.ErrNoMailbox) {
		logger.Warn().Err(err).Msg("reply dropped")
	}
}

func (h *WSHandler) push(cmd core.Command) {
	select {
	case h.inbound <- cmd:
	case <-h.done:
	}
}
