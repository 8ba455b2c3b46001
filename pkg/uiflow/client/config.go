package client

import (
	"math"
	"time"
)

// Reconnect defaults.
const (
	DefaultBaseDelay    = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultDialTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// ReconnectConfig controls backoff and keepalive. MaxAttempts of zero means
// retry forever; PingInterval of zero disables keepalive pings.
type ReconnectConfig struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	PingInterval time.Duration
}

// DefaultReconnectConfig returns 1s base, 30s cap, unlimited attempts and a
// 30s keepalive.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		PingInterval: DefaultPingInterval,
	}
}

// Delay returns the wait before reconnect attempt k (k >= 1):
// min(base * 2^(k-1), max). There is no jitter.
func (c ReconnectConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}

	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Exhausted reports whether attempt exceeds the configured maximum.
func (c ReconnectConfig) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt > c.MaxAttempts
}
