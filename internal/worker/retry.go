package worker

import (
	"math"
	"time"
)

// Receipt polling defaults. A Celo block lands every ~5s, so the first
// re-poll waits under one block and the gap never exceeds a minute.
const (
	DefaultMaxPolls      = 30
	DefaultInitialDelay  = 3 * time.Second
	DefaultMaxDelay      = time.Minute
	DefaultBackoffFactor = 2.0
)

// RetryPolicy spaces receipt polls for a pending transaction. MaxRetries
// is the poll budget after which the transaction is marked dropped.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// withDefaults fills every unset field with the tracker defaults.
func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = DefaultMaxPolls
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = DefaultInitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = DefaultMaxDelay
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = DefaultBackoffFactor
	}
	return r
}

// Exhausted reports whether the given poll (1-based) uses up the budget.
func (r RetryPolicy) Exhausted(poll int) bool {
	return poll >= r.withDefaults().MaxRetries
}

// NextDelay is the wait before poll number poll+1. The result never exceeds
// MaxDelay.
func (r RetryPolicy) NextDelay(poll int) time.Duration {
	r = r.withDefaults()
	if poll < 1 {
		poll = 1
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(poll-1))
	if math.IsInf(delay, 0) || delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	return time.Duration(delay)
}

// NextPollAt schedules the poll following poll relative to now.
func (r RetryPolicy) NextPollAt(now time.Time, poll int) time.Time {
	return now.Add(r.NextDelay(poll))
}
