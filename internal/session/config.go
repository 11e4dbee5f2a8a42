package session

import (
	"time"

	"github.com/cenkalti/backoff"
)

type Config struct {
	MaxConcurrentGenerations int
	// MaxAttempts counts the first try. A batch failing on its last attempt
	// is terminal.
	MaxAttempts int
	BatchSize   int

	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64

	// MaxSystemicFailures fails the session after that many consecutive
	// batches fail on their last attempt. 0 takes the default, a negative
	// value disables the check.
	MaxSystemicFailures int

	// SubscriberBuffer sizes each Subscribe channel. A subscriber that falls
	// this far behind loses events.
	SubscriberBuffer int
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentGenerations: 4,
		MaxAttempts:              3,
		BatchSize:                4,
		RetryInitialDelay:        50 * time.Millisecond,
		RetryMaxDelay:            2 * time.Second,
		RetryMultiplier:          2,
		MaxSystemicFailures:      8,
		SubscriberBuffer:         256,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxConcurrentGenerations <= 0 {
		c.MaxConcurrentGenerations = d.MaxConcurrentGenerations
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = d.RetryInitialDelay
	}
	if c.RetryMaxDelay < c.RetryInitialDelay {
		c.RetryMaxDelay = c.RetryInitialDelay
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = d.RetryMultiplier
	}
	if c.MaxSystemicFailures == 0 {
		c.MaxSystemicFailures = d.MaxSystemicFailures
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	return c
}

// newBackOff returns the per-batch retry schedule. Delays are exact
// (no randomization) so retries are reproducible.
func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.RetryInitialDelay,
		RandomizationFactor: 0,
		Multiplier:          c.RetryMultiplier,
		MaxInterval:         c.RetryMaxDelay,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
