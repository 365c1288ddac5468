package session

import (
	"net/http"
	"time"
)

// BackoffConfig defines the delay between retry attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines relay session tunables for one client.
type Config struct {
	PollInterval   time.Duration
	PollLimit      int
	RequestTimeout time.Duration
	Claim          RetryPolicy
	SecurityMode   SecurityMode
	TLS            TLSConfig
}

// DefaultConfig returns the relay contract defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		PollLimit:      50,
		RequestTimeout: 15 * time.Second,
		Claim:          DefaultClaimPolicy(),
		SecurityMode:   SecurityModeDevelopment,
	}
}

// DefaultClaimPolicy retries a not-yet-visible pair code six times, 500ms apart.
func DefaultClaimPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   1.0,
		},
		Retryable: StatusRetryable(http.StatusNotFound),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollLimit <= 0 {
		c.PollLimit = def.PollLimit
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.Claim.MaxAttempts <= 0 {
		c.Claim.MaxAttempts = def.Claim.MaxAttempts
	}
	if c.Claim.Backoff == (BackoffConfig{}) {
		c.Claim.Backoff = def.Claim.Backoff
	}
	if c.Claim.Retryable == nil {
		c.Claim.Retryable = def.Claim.Retryable
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
