package room

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ListenerConfig holds the configuration for creating a WebSocket Listener.
// Use NewListenerConfig() to create a new configuration and chain methods
// to set the required parameters before calling Build().
type ListenerConfig struct {
	rooms        Rooms
	logger       *zap.Logger
	metrics      *Metrics
	queueSize    int
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64
	origins      []string
}

const (
	// DefaultQueueSize is the number of outbound frames buffered per connection.
	DefaultQueueSize = 256

	// DefaultPingInterval is the interval between WebSocket ping frames.
	DefaultPingInterval = 30 * time.Second

	// DefaultReadTimeout bounds the wait for the next client frame. Clients
	// send a protocol Ping well within it.
	DefaultReadTimeout = 60 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadLimit is the largest accepted client frame.
	DefaultReadLimit = 64 << 10
)

// NewListenerConfig creates a new ListenerConfig.
//
//	listener, err := room.NewListenerConfig().
//	    WithRooms(hub).
//	    WithLogger(logger).
//	    WithQueueSize(512).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
}

// WithRooms sets where connections are routed. Required.
func (c *ListenerConfig) WithRooms(rooms Rooms) *ListenerConfig {
	c.rooms = rooms
	return c
}

// WithLogger sets the Logger. Required.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithMetrics enables connection and message metrics.
func (c *ListenerConfig) WithMetrics(metrics *Metrics) *ListenerConfig {
	c.metrics = metrics
	return c
}

// WithQueueSize sets how many outbound frames a connection buffers before
// frames are dropped. Must be positive.
//
// Default: 256 frames per connection
func (c *ListenerConfig) WithQueueSize(size int) *ListenerConfig {
	if size > 0 {
		c.queueSize = size
	}
	return c
}

// WithPingInterval sets the interval for WebSocket ping frames. Set to 0 to
// disable them.
//
// Default: 30 seconds
func (c *ListenerConfig) WithPingInterval(interval time.Duration) *ListenerConfig {
	if interval >= 0 {
		c.pingInterval = interval
	}
	return c
}

// WithReadTimeout sets how long a connection may stay silent.
//
// Default: 60 seconds
func (c *ListenerConfig) WithReadTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.readTimeout = timeout
	}
	return c
}

// WithWriteTimeout sets the timeout for writing one frame.
//
// Default: 10 seconds
func (c *ListenerConfig) WithWriteTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithReadLimit sets the largest accepted client frame in bytes.
//
// Default: 64KiB
func (c *ListenerConfig) WithReadLimit(limit int64) *ListenerConfig {
	if limit > 0 {
		c.readLimit = limit
	}
	return c
}

// WithOriginPatterns allows cross-origin browser connections from hosts
// matching the given patterns. Same-origin requests are always accepted.
func (c *ListenerConfig) WithOriginPatterns(patterns ...string) *ListenerConfig {
	c.origins = append([]string(nil), patterns...)
	return c
}

// IsValid checks if the configuration has all required parameters set.
func (c *ListenerConfig) IsValid() error {
	var missing []string
	if c.rooms == nil {
		missing = append(missing, "Rooms")
	}
	if c.logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid listener configuration, missing: %v", missing)
	}

	return nil
}

// Build creates a new WebSocket Listener from the configuration.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newListener(c), nil
}
