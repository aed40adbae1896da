package domain

import "time"

// Named day offsets relative to the invocation's calendar day.
const (
	IngestTargetOffset  = -1
	ForecastStartOffset = -1
	ForecastIssueOffset = 0
	DefaultHorizonDays  = 5
)

// Window is the set of dates one invocation works on. It is resolved once and
// shared by every stage of the invocation so that ingest and forecast agree on
// "yesterday" even when the run straddles midnight.
type Window struct {
	Now      time.Time
	Target   ProcessingDate // ledger key for both stages
	Start    ProcessingDate
	Forecast ProcessingDate
	End      ProcessingDate
}

// Resolve returns the date offset days from now's calendar day.
func Resolve(now time.Time, offset int) ProcessingDate {
	return DateOf(now).AddDays(offset)
}

// ResolveWindow computes the processing window from a clock reading. now should
// already be in the basin's local time zone. A non-positive horizon falls back
// to DefaultHorizonDays.
func ResolveWindow(now time.Time, horizonDays int) Window {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return Window{
		Now:      now,
		Target:   Resolve(now, IngestTargetOffset),
		Start:    Resolve(now, ForecastStartOffset),
		Forecast: Resolve(now, ForecastIssueOffset),
		End:      Resolve(now, horizonDays),
	}
}

// ForecastFields returns the text parameters written into a forecast file
// before it is computed. Times come from the model configuration verbatim; an
// empty time leaves that line of the file as it is.
func (w Window) ForecastFields(startTime, forecastTime, endTime string) []Field {
	fields := make([]Field, 0, 6)
	add := func(label, value string) {
		if value != "" {
			fields = append(fields, Field{Label: label, Value: value})
		}
	}
	add("Start Date", w.Start.LongForm())
	add("Start Time", startTime)
	add("Forecast Date", w.Forecast.LongForm())
	add("Forecast Time", forecastTime)
	add("End Date", w.End.LongForm())
	add("End Time", endTime)
	return fields
}
