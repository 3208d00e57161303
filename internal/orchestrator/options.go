package orchestrator

import (
	"fmt"
	"time"

	"cfgvault/internal/config"
)

type Options struct {
	MaxConcurrency int
	Retries        int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	// BackoffFactor above 1 multiplies the delay after every failed
	// attempt; otherwise the delay stays constant.
	BackoffFactor float64
}

func OptionsFromConfig(c config.BackupConfig) Options {
	return Options{
		MaxConcurrency: c.MaxConcurrency,
		Retries:        c.Retries,
		RetryDelay:     c.RetryDelay,
		AttemptTimeout: c.AttemptTimeout,
		BackoffFactor:  c.BackoffFactor,
	}
}

func (o Options) Validate() error {
	switch {
	case o.MaxConcurrency < 1:
		return fmt.Errorf("max concurrency must be at least 1, got %d", o.MaxConcurrency)
	case o.Retries < 0:
		return fmt.Errorf("retries must not be negative, got %d", o.Retries)
	case o.RetryDelay <= 0:
		return fmt.Errorf("retry delay must be positive, got %s", o.RetryDelay)
	case o.AttemptTimeout <= 0:
		return fmt.Errorf("attempt timeout must be positive, got %s", o.AttemptTimeout)
	}
	return nil
}

func (o Options) backoff() func(time.Duration, int) time.Duration {
	if o.BackoffFactor <= 1 {
		return nil
	}

	factor := o.BackoffFactor
	return func(delay time.Duration, attempt int) time.Duration {
		if attempt == 1 {
			return delay
		}
		return time.Duration(float64(delay) * factor)
	}
}
