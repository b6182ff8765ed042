package worker

import "time"

// RetryPolicy shapes how a failed ledger push is rescheduled. The wait grows
// geometrically from InitialDelay by BackoffFactor per attempt, capped at
// MaxDelay. Once a task has burned through MaxRetries it is parked as failed
// and only an operator requeue revives it.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay computes the wait before retry number attempt, where the first
// retry is attempt 1. Unset fields fall back to one-second doubling.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	base := p.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d <= 0 {
		// Duration overflow on absurd attempt counts.
		if p.MaxDelay > 0 {
			return p.MaxDelay
		}
		return base
	}
	return d
}
