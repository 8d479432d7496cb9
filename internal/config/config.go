package config

import "time"

// Transport selects which inbound/outbound transports the server runs.
const (
	TransportPipe = "pipe"
	TransportWS   = "ws"
	TransportBoth = "both"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	Transport    string        `mapstructure:"transport" yaml:"transport"`
	ControlPath  string        `mapstructure:"control_path" yaml:"control_path"`
	MailboxDir   string        `mapstructure:"mailbox_dir" yaml:"mailbox_dir"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	Broadcasters     int           `mapstructure:"broadcasters" yaml:"broadcasters"`

	InboundBuffer      int `mapstructure:"inbound_buffer" yaml:"inbound_buffer"`
	MailboxBuffer      int `mapstructure:"mailbox_buffer" yaml:"mailbox_buffer"`
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	MaxLineBytes       int `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
}

// Default returns configuration matching the reference timings.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		Transport:          TransportBoth,
		ControlPath:        "control_pipe.txt",
		MailboxDir:         "pipes",
		PollInterval:       100 * time.Millisecond,
		HeartbeatTimeout:   30 * time.Second,
		SweepInterval:      5 * time.Second,
		Broadcasters:       4,
		InboundBuffer:      256,
		MailboxBuffer:      64,
		RateLimitPerMinute: 600,
		MaxLineBytes:       4096,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.Transport != "" {
		c.Transport = other.Transport
	}
	if other.ControlPath != "" {
		c.ControlPath = other.ControlPath
	}
	if other.MailboxDir != "" {
		c.MailboxDir = other.MailboxDir
	}
	if other.PollInterval != 0 {
		c.PollInterval = other.PollInterval
	}
	if other.HeartbeatTimeout != 0 {
		c.HeartbeatTimeout = other.HeartbeatTimeout
	}
	if other.SweepInterval != 0 {
		c.SweepInterval = other.SweepInterval
	}
	if other.Broadcasters != 0 {
		c.Broadcasters = other.Broadcasters
	}
	if other.InboundBuffer != 0 {
		c.InboundBuffer = other.InboundBuffer
	}
	if other.MailboxBuffer != 0 {
		c.MailboxBuffer = other.MailboxBuffer
	}
	if other.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = other.RateLimitPerMinute
	}
	if other.MaxLineBytes != 0 {
		c.MaxLineBytes = other.MaxLineBytes
	}
}

// PipeEnabled reports whether the file transport should run.
func (c *Config) PipeEnabled() bool {
	return c.Transport == TransportPipe || c.Transport == TransportBoth
}

// WSEnabled reports whether the WebSocket transport should run.
func (c *Config) WSEnabled() bool {
	return c.Transport == TransportWS || c.Transport == TransportBoth
}
