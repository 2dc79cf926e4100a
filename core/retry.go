package core

import (
	"context"
	"math"
	"time"
)

// RetryPolicy computes exponential backoff delays. It never waits.
type RetryPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DelayFor returns Base * 2^(attempt-1) for attempt >= 1, capped by Max.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt <= 0 || p.Base <= 0 {
		return 0
	}
	scaled := float64(p.Base) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(math.MaxInt64)
	if scaled < float64(math.MaxInt64) {
		delay = time.Duration(scaled)
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}

// Exhausted reports whether attempts have reached the cap.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// TimerScheduler waits on a real timer. MaxWait bounds a single wait so a
// slow target cannot stall callers indefinitely.
type TimerScheduler struct {
	MaxWait time.Duration
}

func (s TimerScheduler) Wait(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.MaxWait > 0 && d > s.MaxWait {
		d = s.MaxWait
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Scheduler = TimerScheduler{}
