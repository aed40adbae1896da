package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Summary collects the stage results of one invocation.
type Summary struct {
	RunID   string
	Now     time.Time
	Results []domain.StageResult
}

// Count returns how many results have the given outcome.
func (s Summary) Count(o domain.Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns the failed results.
func (s Summary) Failed() []domain.StageResult {
	var out []domain.StageResult
	for _, r := range s.Results {
		if r.Outcome == domain.OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}

// Runner processes every configured model sequentially for a list of stages.
type Runner struct {
	seq         *Sequencer
	clock       clockwork.Clock
	logger      *slog.Logger
	horizonDays int
	logLevel    string
}

// NewRunner creates a Runner. horizonDays sets the forecast end date offset;
// logLevel applies to per-model log files.
func NewRunner(seq *Sequencer, clock clockwork.Clock, logger *slog.Logger, horizonDays int, logLevel string) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{seq: seq, clock: clock, logger: logger, horizonDays: horizonDays, logLevel: logLevel}
}

// Run takes a single clock reading, derives every model's window from it, and
// runs the stages in order for each model. A model's failure is recorded and
// the next model proceeds. Cancelling ctx stops before the next model.
func (r *Runner) Run(ctx context.Context, models []domain.Model, stages []domain.Stage) Summary {
	now := r.clock.Now()
	summary := Summary{RunID: r.seq.runID, Now: now}
	r.logger.Info("pipeline run started", "run_id", r.seq.runID, "models", len(models), "stages", stages)

	for _, m := range models {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled before model", "model", m.Name, "error", err)
			break
		}
		summary.Results = append(summary.Results, r.runModel(ctx, m, stages, now)...)
	}

	r.logger.Info("pipeline run finished",
		"run_id", r.seq.runID,
		"completed", summary.Count(domain.OutcomeCompleted),
		"waiting", summary.Count(domain.OutcomeWaiting),
		"skipped", summary.Count(domain.OutcomeSkipped),
		"failed", summary.Count(domain.OutcomeFailed),
	)
	return summary
}

func (r *Runner) runModel(ctx context.Context, m domain.Model, stages []domain.Stage, now time.Time) []domain.StageResult {
	logger, closeLog, err := observability.WithFile(r.logger, m.LogFile, r.logLevel)
	if err != nil {
		r.logger.Warn("model log file unavailable, using process log only", "model", m.Name, "error", err)
		logger, closeLog = r.logger, func() error { return nil }
	}
	defer func() {
		if err := closeLog(); err != nil {
			r.logger.Warn("close model log file", "model", m.Name, "error", err)
		}
	}()

	loc := m.Location
	if loc == nil {
		loc = time.Local
	}
	w := domain.ResolveWindow(now.In(loc), r.horizonDays)
	seq := r.seq.WithLogger(logger)

	results := make([]domain.StageResult, 0, len(stages))
	for _, stage := range stages {
		results = append(results, seq.Run(ctx, stage, m, w))
	}
	return results
}
