// Package server implements the TCP front end of the SSH transport: the
// accept loop, the connection adapter that feeds bytes into sessions, the
// periodic timeout sweeper and a per-address pre-authentication failure
// throttle.
package server

import (
	"errors"
	"time"
)

// Default configuration values.
const (
	// DefaultListenAddr is the default SSH TCP listen address.
	DefaultListenAddr = ":22"

	// DefaultSoftware is the software version advertised in the
	// identification line.
	DefaultSoftware = "go-sshd"

	// DefaultReadBufferSize is the buffer size for reads from the socket.
	DefaultReadBufferSize = 32 * 1024

	// DefaultWriteQueueSize is the per-connection outbound queue depth.
	// Writers block once the queue fills, which backpressures the encoder.
	DefaultWriteQueueSize = 64

	// DefaultSweepInterval is how often session timeouts are checked.
	DefaultSweepInterval = 5 * time.Second

	// DefaultThrottleSize is the number of remote addresses tracked by the
	// pre-auth failure throttle.
	DefaultThrottleSize = 1024

	// DefaultThrottleThreshold is the number of recent pre-auth failures
	// after which an address is refused at accept.
	DefaultThrottleThreshold = 10
)

// Config holds the server configuration. All fields have usable defaults
// from DefaultConfig.
type Config struct {
	// ListenAddr is the TCP address to listen on (e.g. ":22").
	ListenAddr string

	// Software is the software version string for the identification line.
	Software string

	// Comments is the optional identification comment field.
	Comments string

	// MaxConnections caps concurrent connections (0 = no limit).
	MaxConnections int

	// ReadBufferSize is the socket read buffer size.
	ReadBufferSize int

	// WriteQueueSize is the per-connection outbound queue depth.
	WriteQueueSize int

	// SweepInterval is the cadence of the timeout sweeper.
	SweepInterval time.Duration

	// ThrottleSize is the number of addresses the failure throttle tracks
	// (0 disables the throttle).
	ThrottleSize int

	// ThrottleThreshold is the failure count at which an address is
	// refused.
	ThrottleThreshold int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        DefaultListenAddr,
		Software:          DefaultSoftware,
		ReadBufferSize:    DefaultReadBufferSize,
		WriteQueueSize:    DefaultWriteQueueSize,
		SweepInterval:     DefaultSweepInterval,
		ThrottleSize:      DefaultThrottleSize,
		ThrottleThreshold: DefaultThrottleThreshold,
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.Software == "" {
		return errors.New("software version must not be empty")
	}
	if c.ReadBufferSize <= 0 {
		return errors.New("read buffer size must be positive")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	return nil
}
