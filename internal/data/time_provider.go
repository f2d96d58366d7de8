package data

import "time"

// TimeProvider abstracts the clock. Lease expiry, retry scheduling, and
// cleanup cutoffs all read time through it so tests can advance a fake clock
// instead of sleeping.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

func (RealTimeProvider) Now() time.Time { return time.Now() }

// FixedTimeProvider is a clock frozen at a settable instant.
type FixedTimeProvider struct {
	at time.Time
}

// NewFixedTimeProvider returns a clock frozen at t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{at: t}
}

func (f *FixedTimeProvider) Now() time.Time { return f.at }

// SetTime moves the clock to t.
func (f *FixedTimeProvider) SetTime(t time.Time) { f.at = t }

// AddTime advances the clock by d.
func (f *FixedTimeProvider) AddTime(d time.Duration) { f.at = f.at.Add(d) }
