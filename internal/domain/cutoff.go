package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCutoff is returned when a cutoff is not a valid HH:MM time of day.
var ErrInvalidCutoff = errors.New("invalid cutoff time")

// TimeOfDay is a wall-clock time with minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidCutoff, s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant of t on now's calendar day, in now's location.
func (t TimeOfDay) On(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, now.Location())
}

// Decision is the outcome of the cutoff gate.
type Decision int

const (
	Proceed Decision = iota
	Wait
	SkipToday
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "PROCEED"
	case Wait:
		return "WAIT"
	case SkipToday:
		return "SKIP_TODAY"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Decide applies the cutoff rules. A found input always proceeds; otherwise
// reaching the cutoff (inclusive) skips the day and anything earlier waits for
// the next scheduled invocation.
func Decide(now time.Time, cutoff TimeOfDay, found bool) Decision {
	if found {
		return Proceed
	}
	if !now.Before(cutoff.On(now)) {
		return SkipToday
	}
	return Wait
}
