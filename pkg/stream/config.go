package stream

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dd0wney/cluso-subchain/pkg/validation"
)

// IngestConfig holds block stream ingest configuration
type IngestConfig struct {
	ClientID string

	// Reconnect backoff
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	ReconnectMultiplier   float64
	MaxReconnectAttempts  int // consecutive failed attempts before giving up

	ConnectTimeout   time.Duration // Timeout for establishing a connection
	HandshakeTimeout time.Duration // Timeout for the handshake reply
	IdleTimeout      time.Duration // Drop a connection silent for longer than this (0 = never)

	// Slowmo delays every record delivery by SlowmoDelay
	Slowmo      bool
	SlowmoDelay time.Duration
}

// DefaultIngestConfig returns default configuration
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		InitialReconnectDelay: 500 * time.Millisecond,
		MaxReconnectDelay:     30 * time.Second,
		ReconnectMultiplier:   2,
		MaxReconnectAttempts:  10,
		ConnectTimeout:        10 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		IdleTimeout:           30 * time.Second,
		SlowmoDelay:           time.Second,
	}
}

// ApplyDefaults applies default values to zero-valued fields
func (c *IngestConfig) ApplyDefaults() {
	defaults := DefaultIngestConfig()

	c.InitialReconnectDelay = validation.DefaultOrDuration(c.InitialReconnectDelay, defaults.InitialReconnectDelay)
	c.MaxReconnectDelay = validation.DefaultOrDuration(c.MaxReconnectDelay, defaults.MaxReconnectDelay)
	c.ReconnectMultiplier = validation.DefaultOrFloat(c.ReconnectMultiplier, defaults.ReconnectMultiplier)
	c.MaxReconnectAttempts = validation.DefaultOrInt(c.MaxReconnectAttempts, defaults.MaxReconnectAttempts)
	c.ConnectTimeout = validation.DefaultOrDuration(c.ConnectTimeout, defaults.ConnectTimeout)
	c.HandshakeTimeout = validation.DefaultOrDuration(c.HandshakeTimeout, defaults.HandshakeTimeout)
	c.SlowmoDelay = validation.DefaultOrDuration(c.SlowmoDelay, defaults.SlowmoDelay)
}

// Validate validates the ingest configuration
func (c *IngestConfig) Validate() error {
	v := validation.NewConfigValidator("IngestConfig")

	v.MinDuration("InitialReconnectDelay", c.InitialReconnectDelay, time.Millisecond).
		NotAfter("MaxReconnectDelay", c.InitialReconnectDelay, c.MaxReconnectDelay).
		MinFloat("ReconnectMultiplier", c.ReconnectMultiplier, 1).
		RangeInt("MaxReconnectAttempts", c.MaxReconnectAttempts, 1, 1000).
		MinDuration("ConnectTimeout", c.ConnectTimeout, 10*time.Millisecond).
		MinDuration("HandshakeTimeout", c.HandshakeTimeout, 10*time.Millisecond)

	v.When(c.IdleTimeout != 0, func(cv *validation.ConfigValidator) {
		cv.MinDuration("IdleTimeout", c.IdleTimeout, 10*time.Millisecond)
	})
	v.When(c.Slowmo, func(cv *validation.ConfigValidator) {
		cv.MinDuration("SlowmoDelay", c.SlowmoDelay, time.Millisecond)
	})

	return v.Validate()
}

// newBackOff builds the reconnect schedule
func (c *IngestConfig) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialReconnectDelay
	b.MaxInterval = c.MaxReconnectDelay
	b.Multiplier = c.ReconnectMultiplier
	b.Reset()
	return b
}
