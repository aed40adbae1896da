package domain

import "fmt"

// State is a position in the per-(model, date) state machine. States are never
// persisted; each invocation re-derives them from the ledgers.
type State string

const (
	StateAwaitingIngestData  State = "AwaitingIngestData"
	StateIngesting           State = "Ingesting"
	StateIngested            State = "Ingested"
	StateAwaitingForecastRun State = "AwaitingForecastRun"
	StateRunningForecast     State = "RunningForecast"
	StateDone                State = "Done"
	StateIngestFailed        State = "IngestFailed"
	StateForecastFailed      State = "ForecastFailed"
)

// Outcome tags a StageResult.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeWaiting   Outcome = "waiting"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Skip reasons.
const (
	ReasonAlreadyDone   = "already done"
	ReasonCutoff        = "cutoff passed"
	ReasonNotConfigured = "not configured"
)

// StageResult is the outcome of one stage attempt for one model and date.
type StageResult struct {
	Model   string
	Stage   Stage
	Date    ProcessingDate
	Outcome Outcome
	State   State
	Reason  string
	Err     error
}

func Completed(model string, stage Stage, date ProcessingDate, state State) StageResult {
	return StageResult{Model: model, Stage: stage, Date: date, Outcome: OutcomeCompleted, State: state}
}

func Waiting(model string, stage Stage, date ProcessingDate, state State) StageResult {
	return StageResult{Model: model, Stage: stage, Date: date, Outcome: OutcomeWaiting, State: state}
}

func Skipped(model string, stage Stage, date ProcessingDate, state State, reason string) StageResult {
	return StageResult{Model: model, Stage: stage, Date: date, Outcome: OutcomeSkipped, State: state, Reason: reason}
}

func Failed(model string, stage Stage, date ProcessingDate, state State, err error) StageResult {
	return StageResult{Model: model, Stage: stage, Date: date, Outcome: OutcomeFailed, State: state, Err: err}
}

// Decision maps a waiting or skipped-for-cutoff result back to the gate decision
// that produced it. Every other result maps to Proceed.
func (r StageResult) Decision() Decision {
	switch {
	case r.Outcome == OutcomeWaiting:
		return Wait
	case r.Outcome == OutcomeSkipped && r.Reason == ReasonCutoff:
		return SkipToday
	default:
		return Proceed
	}
}

func (r StageResult) String() string {
	s := fmt.Sprintf("%s/%s/%s: %s (%s)", r.Model, r.Stage, r.Date, r.Outcome, r.State)
	if r.Reason != "" {
		s += ": " + r.Reason
	}
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}
