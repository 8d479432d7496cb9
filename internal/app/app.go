package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/config"
	"github.com/vovakirdan/pipechat-server/internal/core"
	"github.com/vovakirdan/pipechat-server/internal/transport/pipe"
	transporthttp "github.com/vovakirdan/pipechat-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	inbound         chan core.Command

	control   *pipe.ControlReader
	pipeBoxes *pipe.Mailboxes
	sessions  *transporthttp.Sessions

	done     chan struct{}
	doneOnce sync.Once
	log      *zerolog.Logger
}

// New constructs the application with provided configuration. It fails if the control
// file or mailbox directory cannot be created.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		inbound:         make(chan core.Command, cfg.InboundBuffer),
		done:            make(chan struct{}),
		log:             logger,
	}

	mail := &mailboxSet{}
	if cfg.PipeEnabled() {
		pipeLog := logger.With().Str("transport", "pipe").Logger()
		control, err := pipe.NewControlReader(cfg.ControlPath, cfg.PollInterval, cfg.MaxLineBytes, &pipeLog)
		if err != nil {
			return nil, err
		}
		boxes, err := pipe.NewMailboxes(cfg.MailboxDir, &pipeLog)
		if err != nil {
			_ = control.Remove()
			return nil, err
		}
		a.control, a.pipeBoxes = control, boxes
		mail.pipe = boxes
		logger.Info().Str("control", cfg.ControlPath).Str("mailboxes", cfg.MailboxDir).Msg("pipe transport enabled")
	}
	if cfg.WSEnabled() {
		a.sessions = transporthttp.NewSessions(cfg.MailboxBuffer)
		mail.ws = a.sessions
		logger.Info().Str("addr", cfg.Addr).Msg("websocket transport enabled")
	}

	a.hub = core.NewHub(core.Options{
		Broadcasters:     cfg.Broadcasters,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		SweepInterval:    cfg.SweepInterval,
	}, mail, logger)

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Hub:      a.hub,
		Sessions: a.sessions,
		Inbound:  a.inbound,
		Done:     a.done,
	}, cfg, logger)

	return a, nil
}

// Hub returns the running hub.
func (a *App) Hub() *core.Hub {
	return a.hub
}

// Run starts the hub, the transports and the HTTP server and blocks until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.hub.Run(ctx, a.inbound)
	}()
	if a.control != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.control.Run(ctx, a.inbound)
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.stop(cancel, &wg)
		return err
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancelShutdown()

		a.log.Info().Msg("shutting down http server")
		a.closeDone()
		shutdownErr := a.server.Shutdown(shutdownCtx)
		a.stop(cancel, &wg)
		if shutdownErr != nil {
			return shutdownErr
		}
		return <-serverErr
	}
}

func (a *App) stop(cancel context.CancelFunc, wg *sync.WaitGroup) {
	a.closeDone()
	cancel()
	wg.Wait()
	a.cleanup()
}

func (a *App) closeDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

// cleanup removes the files owned by the pipe transport.
func (a *App) cleanup() {
	if a.pipeBoxes != nil {
		if err := a.pipeBoxes.Cleanup(); err != nil {
			a.log.Warn().Err(err).Msg("failed to remove mailboxes")
		}
	}
	if a.control != nil {
		if err := a.control.Remove(); err != nil {
			a.log.Warn().Err(err).Msg("failed to remove control file")
		} else {
			a.log.Info().Msg("control file removed")
		}
	}
}
