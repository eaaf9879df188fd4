// Package retry decides whether a failed webhook may run again and when.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"jobboard.app/atsbridge/internal/model"
)

const (
	DefaultBaseDelay = 30 * time.Second
	DefaultMaxDelay  = 30 * time.Minute
)

// Policy is a bounded-attempt retry gate with exponential backoff between
// attempts. The zero value uses the defaults.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the randomization factor, 0 disables it.
	Jitter float64
}

func NewPolicy(base, max time.Duration) Policy {
	return Policy{BaseDelay: base, MaxDelay: max, Multiplier: 4, Jitter: 0.2}
}

// IsRetryable is true for failed records that still have attempts left.
func IsRetryable(r *model.WebhookRecord) bool {
	return r.Status == model.WebhookStatusFailed && r.RetryCount < model.MaxAttempts
}

func NextAttemptNumber(r *model.WebhookRecord) int {
	return r.RetryCount + 1
}

// IsDue reports whether r is retryable and its backoff has elapsed.
func (p Policy) IsDue(r *model.WebhookRecord, now time.Time) bool {
	if !IsRetryable(r) {
		return false
	}
	return r.NextAttemptAt == nil || !now.Before(*r.NextAttemptAt)
}

// NextAttemptAt returns when a record that has now failed retryCount times may
// run again. Nil once attempts are exhausted.
func (p Policy) NextAttemptAt(retryCount int, now time.Time) *time.Time {
	if retryCount >= model.MaxAttempts {
		return nil
	}
	at := now.Add(p.Delay(retryCount))
	return &at
}

// Delay is the wait after the retryCount-th failure.
func (p Policy) Delay(retryCount int) time.Duration {
	b := p.backoff()
	d := b.NextBackOff()
	for i := 1; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultBaseDelay
	}
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMaxDelay
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 4
	}
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}
