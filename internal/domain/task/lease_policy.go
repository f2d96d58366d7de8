package task

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is
// not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit: the caller supplied a usable positive duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault: the caller passed zero and the default applied.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped: the request was out of range and was clamped.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeaseDecision is the outcome of resolving one lease request. Seconds is
// what the queue stores; Source and Requested exist so callers can log when
// a request did not survive resolution intact.
type LeaseDecision struct {
	Seconds   int
	Source    LeaseSource
	Requested time.Duration
}

// UsedDefault reports whether the policy fell back to the default lease.
func (d LeaseDecision) UsedDefault() bool { return d.Source == LeaseSourceDefault }

// Clamped reports whether the requested value was clamped.
func (d LeaseDecision) Clamped() bool { return d.Source == LeaseSourceClamped }

// LeasePolicy normalises lease durations for reservations and heartbeats.
// The tasks table stores leases in whole seconds, so anything positive but
// under a second clamps up to 1 rather than rounding down to an instantly
// expired lease.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the given default.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// Resolve normalises a requested duration to whole seconds: positive values
// pass through (clamping where needed), zero means "use the default", and
// negative values clamp to the minimum.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	if p == nil {
		return LeaseDecision{Source: LeaseSourceDefault, Requested: request}
	}

	switch {
	case request > 0:
		seconds, clamped := wholeSeconds(request)
		source := LeaseSourceExplicit
		if clamped {
			source = LeaseSourceClamped
		}
		return LeaseDecision{Seconds: seconds, Source: source, Requested: request}

	case request == 0:
		seconds, _ := wholeSeconds(p.defaultLease)
		return LeaseDecision{Seconds: seconds, Source: LeaseSourceDefault, Requested: request}

	default:
		return LeaseDecision{Seconds: 1, Source: LeaseSourceClamped, Requested: request}
	}
}

// wholeSeconds truncates to seconds and reports whether the value had to be
// forced into the valid range.
func wholeSeconds(d time.Duration) (int, bool) {
	s := int64(d / time.Second)
	switch {
	case s <= 0:
		return 1, true
	case s > int64(math.MaxInt):
		return math.MaxInt, true
	default:
		return int(s), false
	}
}
