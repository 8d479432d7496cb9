package config

import (
	"errors"
	"fmt"
)

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportPipe, TransportWS, TransportBoth:
	default:
		return fmt.Errorf("transport must be one of pipe, ws, both; got %q", c.Transport)
	}
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.PipeEnabled() {
		if c.ControlPath == "" {
			return errors.New("control_path is required for the pipe transport")
		}
		if c.MailboxDir == "" {
			return errors.New("mailbox_dir is required for the pipe transport")
		}
		if c.PollInterval <= 0 {
			return errors.New("poll_interval must be > 0")
		}
	}
	if c.HeartbeatTimeout <= 0 {
		return errors.New("heartbeat_timeout must be > 0")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be > 0")
	}
	if c.Broadcasters < 1 {
		return errors.New("broadcasters must be >= 1")
	}
	if c.InboundBuffer < 0 {
		return errors.New("inbound_buffer must be >= 0")
	}
	if c.MailboxBuffer < 1 {
		return errors.New("mailbox_buffer must be >= 1")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("rate_limit_per_minute must be >= 0")
	}
	if c.MaxLineBytes < 64 {
		return fmt.Errorf("max_line_bytes must be >= 64, got %d", c.MaxLineBytes)
	}
	return nil
}
