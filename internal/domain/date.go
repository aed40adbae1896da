package domain

import (
	"errors"
	"fmt"
	"time"
)

// LedgerLayout is the compact encoding used for ledger keys and file names.
const LedgerLayout = "20060102"

// LongLayout is the date encoding the engine expects in forecast text fields,
// e.g. "15 March 2024".
const LongLayout = "02 January 2006"

// ErrInvalidDate is returned when a string is not a YYYYMMDD calendar date.
var ErrInvalidDate = errors.New("invalid processing date")

// ProcessingDate is a calendar date with no time component.
type ProcessingDate struct {
	Year  int
	Month time.Month
	Day   int
}

// NewProcessingDate normalizes the given components (so day 32 rolls over).
func NewProcessingDate(year int, month time.Month, day int) ProcessingDate {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) ProcessingDate {
	y, m, d := t.Date()
	return ProcessingDate{Year: y, Month: m, Day: d}
}

// ParseProcessingDate parses the compact YYYYMMDD form.
func ParseProcessingDate(s string) (ProcessingDate, error) {
	t, err := time.Parse(LedgerLayout, s)
	if err != nil || len(s) != len(LedgerLayout) {
		return ProcessingDate{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d ProcessingDate) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String renders the ledger key form, YYYYMMDD.
func (d ProcessingDate) String() string {
	return d.time().Format(LedgerLayout)
}

// LongForm renders the engine parameter form, e.g. "01 January 2024".
func (d ProcessingDate) LongForm() string {
	return d.time().Format(LongLayout)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d ProcessingDate) AddDays(n int) ProcessingDate {
	return DateOf(d.time().AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than o.
func (d ProcessingDate) Before(o ProcessingDate) bool {
	return d.time().Before(o.time())
}

func (d ProcessingDate) IsZero() bool {
	return d == ProcessingDate{}
}
