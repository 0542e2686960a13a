package service

import (
	"github.com/cenkalti/backoff/v5"
	"time"
	"worker-transcribe/config"
)

type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	Jitter     float64
}

func RetryPolicyFromConfig(p config.Pipeline) RetryPolicy {
	return RetryPolicy{
		MaxRetries: p.MaxRetries,
		Base:       p.BackoffBase,
		Factor:     p.BackoffFactor,
		Cap:        p.BackoffCap,
		Jitter:     p.BackoffJitter,
	}
}

// ShouldRetry reports whether a chunk whose retry_count becomes next may run again.
func (p RetryPolicy) ShouldRetry(next int) bool {
	return next < p.MaxRetries
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Base
	bo.Multiplier = p.Factor
	bo.MaxInterval = p.Cap
	bo.RandomizationFactor = p.Jitter
	bo.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}
