package sok

import "time"

// Config bundles the tunables of a Selector and its sockets. Built with
// functional options over DefaultConfig, mirroring the options-struct idiom
// used throughout the retrieved pack (buffer-pool and logger configs).
// NewSelector reads only PollTimeout and SelfWakeBufferSize from its
// options. ConnectTCP and ListenTCP each build their own Config from
// DefaultConfig plus the options passed to that call; socket fields given
// to NewSelector do not reach them.
type Config struct {
	// PollTimeout bounds each call to the platform poll primitive.
	PollTimeout time.Duration
	// SelfWakeBufferSize sizes the internal read buffer for self-wake drains.
	SelfWakeBufferSize int
	// DefaultRecvBuffer / DefaultSendBuffer are SO_RCVBUF/SO_SNDBUF hints
	// applied by ConnectTCP when positive. Accepted sockets are left at the
	// OS defaults.
	DefaultRecvBuffer int
	DefaultSendBuffer int
	// DefaultNoDelay sets TCP_NODELAY on sockets created by ConnectTCP when
	// true.
	DefaultNoDelay bool
	// ListenBacklog is passed to listen(2).
	ListenBacklog int
}

// Option mutates a Config in place.
type Option func(*Config)

// DefaultConfig returns the built-in defaults applied before Options run.
func DefaultConfig() Config {
	return Config{
		PollTimeout:        1 * time.Second,
		SelfWakeBufferSize: 64,
		DefaultRecvBuffer:  0,
		DefaultSendBuffer:  0,
		DefaultNoDelay:     true,
		ListenBacklog:      1024,
	}
}

// WithPollTimeout overrides the poll primitive's timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Config) { c.PollTimeout = d }
}

// WithNoDelay sets the default TCP_NODELAY for new sockets.
func WithNoDelay(v bool) Option {
	return func(c *Config) { c.DefaultNoDelay = v }
}

// WithBuffers sets the default SO_RCVBUF/SO_SNDBUF hints.
func WithBuffers(rcv, snd int) Option {
	return func(c *Config) { c.DefaultRecvBuffer = rcv; c.DefaultSendBuffer = snd }
}

// WithListenBacklog overrides the listen(2) backlog.
func WithListenBacklog(n int) Option {
	return func(c *Config) { c.ListenBacklog = n }
}

func buildConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
