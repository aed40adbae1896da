package domain

import "time"

// CompletionEvent is published after a stage is marked done in a ledger.
type CompletionEvent struct {
	RunID       string    `json:"run_id"`
	Model       string    `json:"model"`
	Stage       Stage     `json:"stage"`
	Date        string    `json:"date"`
	File        string    `json:"file,omitempty"`
	Forecasts   []string  `json:"forecasts,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Key identifies the (model, stage, date) triple an event refers to.
func (e CompletionEvent) Key() string {
	return e.Model + "/" + string(e.Stage) + "/" + e.Date
}

// Observation is one timestamped telemetry row. Values holds only the
// variables that were reported for that timestamp.
type Observation struct {
	Timestamp string
	Values    map[string]float64
}
