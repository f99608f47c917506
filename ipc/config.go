// File: ipc/config.go
// Author: momentics <momentics@gmail.com>
//
// EndpointConfig: DefaultConfig plus functional options.

package ipc

// InitSocketPrefix is the fixed prefix a path must carry to be resolved as
// an init-adopted listening fd name rather than a filesystem path to bind.
const InitSocketPrefix = "/dev/socket/"

// EndpointConfig configures NewEndpoint.
type EndpointConfig struct {
	// Path is either a filesystem path to bind an AF_UNIX socket at, or,
	// if it begins with InitSocketPrefix, the name of a listening fd
	// adopted from the system init service (the suffix after the prefix).
	Path string

	// Blocking selects MessageReceive's wait mode: true blocks
	// indefinitely, false polls with a zero timeout and returns
	// ErrTimedOut when idle.
	Blocking bool

	// Backlog is the listen() backlog. Defaults to 1; a UDS endpoint's
	// accept loop drains connects one readiness event at a time, so a
	// deep backlog buys little.
	Backlog int

	// Trace gates verbose per-channel debug logging.
	Trace bool

	// ChannelManager is the injected client-side channel registry. A
	// DefaultChannelManager is used if nil.
	ChannelManager ChannelManager

	// Metrics receives dispatch counters if non-nil.
	Metrics *MetricsSink
}

// EndpointOption mutates an EndpointConfig under construction.
type EndpointOption func(*EndpointConfig)

// DefaultConfig returns the baseline configuration: backlog 1, blocking
// mode, tracing off.
func DefaultConfig(path string) EndpointConfig {
	return EndpointConfig{
		Path:     path,
		Blocking: true,
		Backlog:  1,
	}
}

// WithBlocking overrides the blocking flag.
func WithBlocking(blocking bool) EndpointOption {
	return func(c *EndpointConfig) { c.Blocking = blocking }
}

// WithTrace enables or disables verbose debug logging.
func WithTrace(trace bool) EndpointOption {
	return func(c *EndpointConfig) { c.Trace = trace }
}

// WithBacklog overrides the listen backlog.
func WithBacklog(n int) EndpointOption {
	return func(c *EndpointConfig) { c.Backlog = n }
}

// WithChannelManager injects a client-side channel registry.
func WithChannelManager(mgr ChannelManager) EndpointOption {
	return func(c *EndpointConfig) { c.ChannelManager = mgr }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(sink *MetricsSink) EndpointOption {
	return func(c *EndpointConfig) { c.Metrics = sink }
}

// Apply folds opts onto a base config produced by DefaultConfig.
func (c EndpointConfig) Apply(opts ...EndpointOption) EndpointConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
