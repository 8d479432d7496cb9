// Package pipe implements the file transport: clients append records to a shared control
// file and read replies from per-connection mailbox files.
package pipe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/core"
	"github.com/vovakirdan/pipechat-server/internal/proto"
	"github.com/vovakirdan/pipechat-server/internal/utils"
)

// ControlReader polls the control file and forwards parsed commands.
//
// Each poll reads the whole file, handles every complete line and rewrites the file with
// whatever partial line remained. Records appended between the read and the rewrite are
// lost; clients that need guaranteed delivery should use the WebSocket transport.
type ControlReader struct {
	path     string
	interval time.Duration
	maxLine  int
	log      *zerolog.Logger

	read    int64
	skipped int64
}

// NewControlReader creates the control file if needed. Failure here is fatal for the
// pipe transport.
func NewControlReader(path string, interval time.Duration, maxLine int, logger *zerolog.Logger) (*ControlReader, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create control dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return nil, fmt.Errorf("create control file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("create control file: %w", err)
	}
	return &ControlReader{
		path:     path,
		interval: interval,
		maxLine:  maxLine,
		log:      logger,
	}, nil
}

// Path returns the control file location.
func (r *ControlReader) Path() string {
	return r.path
}

// Run polls until ctx is done. It never closes out.
func (r *ControlReader) Run(ctx context.Context, out chan<- core.Command) {
	r.log.Info().Str("path", r.path).Dur("interval", r.interval).Msg("control reader started")
	defer r.log.Info().Int64("read", r.read).Int64("skipped", r.skipped).Msg("control reader stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Poll(ctx, out); err != nil {
			r.log.Warn().Err(err).Str("path", r.path).Msg("poll control file")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll consumes the complete lines currently in the control file.
func (r *ControlReader) Poll(ctx context.Context, out chan<- core.Command) error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read control file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		// Only a partial line so far.
		return nil
	}
	if err := os.WriteFile(r.path, data[end+1:], 0o666); err != nil {
		return fmt.Errorf("truncate control file: %w", err)
	}

	for _, raw := range bytes.Split(data[:end], []byte{'\n'}) {
		cmd, ok := r.parse(raw)
		if !ok {
			continue
		}
		select {
		case out <- cmd:
			r.read++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *ControlReader) parse(raw []byte) (core.Command, bool) {
	line := string(bytes.TrimRight(raw, "\r"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return core.Command{}, false
	}
	if r.maxLine > 0 && len(line) > r.maxLine {
		r.skipped++
		r.log.Warn().Int("bytes", len(line)).Msg("control line too long, skipped")
		return core.Command{}, false
	}
	rec, err := proto.ParseRecord(line)
	if err != nil {
		r.skipped++
		r.log.Warn().Err(err).Msg("skipping control line")
		return core.Command{}, false
	}
	if strings.HasPrefix(rec.ConnID, utils.ConnIDPrefix) {
		// Reserved for WebSocket sessions.
		r.skipped++
		r.log.Warn().Str("conn_id", rec.ConnID).Msg("reserved connection id, skipped")
		return core.Command{}, false
	}
	return core.CommandFromRecord(rec), true
}

// Remove deletes the control file.
func (r *ControlReader) Remove() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
