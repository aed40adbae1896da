package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/ledger"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Locator finds the raw file for a date under a raw-data root.
type Locator interface {
	Locate(rawRoot string, date domain.ProcessingDate) (domain.RawFileReference, bool, error)
}

// Ledger records which dates each stage has completed per model.
type Ledger interface {
	Contains(model string, stage domain.Stage, date domain.ProcessingDate) (bool, error)
	MarkDone(model string, stage domain.Stage, date domain.ProcessingDate) error
}

// SessionOpener opens an engine project session.
type SessionOpener interface {
	OpenProject(ctx context.Context, path string) (domain.Session, error)
}

// Engine is the external modeling engine.
type Engine interface {
	SessionOpener
	ImportRaster(ctx context.Context, req domain.ImportRequest) error
}

// Notifier is told about every date marked done in a ledger.
type Notifier interface {
	StageCompleted(ctx context.Context, ev domain.CompletionEvent) error
}

// NopNotifier discards completion events.
type NopNotifier struct{}

func (NopNotifier) StageCompleted(context.Context, domain.CompletionEvent) error { return nil }

// StageError is a per-model stage failure with enough context to retry by hand.
type StageError struct {
	Model string
	Stage domain.Stage
	Date  domain.ProcessingDate
	Op    string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s %s: %s: %v", e.Model, e.Stage, e.Date, e.Op, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Dependencies wires a Sequencer.
type Dependencies struct {
	Locator  Locator
	Ledger   Ledger
	Engine   Engine
	Notifier Notifier
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	RunID    string
}

// Sequencer drives one model at a time through the ingest and forecast stages.
// It keeps no state between calls: every decision is re-derived from the
// ledgers, so a crashed or failed run is recovered by simply running again.
type Sequencer struct {
	locator  Locator
	ledger   Ledger
	engine   Engine
	notifier Notifier
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	runID    string
}

// NewSequencer creates a Sequencer. A nil Notifier or Clock gets a no-op
// notifier or the real clock.
func NewSequencer(d Dependencies) *Sequencer {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Sequencer{
		locator:  d.Locator,
		ledger:   d.Ledger,
		engine:   d.Engine,
		notifier: d.Notifier,
		clock:    d.Clock,
		logger:   d.Logger,
		metrics:  d.Metrics,
		runID:    d.RunID,
	}
}

// WithLogger returns a copy of s that logs to logger.
func (s *Sequencer) WithLogger(logger *slog.Logger) *Sequencer {
	c := *s
	c.logger = logger
	return &c
}

// WithRunID returns a copy of s whose completion events carry id.
func (s *Sequencer) WithRunID(id string) *Sequencer {
	c := *s
	c.runID = id
	return &c
}

// Run executes one stage for one model.
func (s *Sequencer) Run(ctx context.Context, stage domain.Stage, m domain.Model, w domain.Window) domain.StageResult {
	switch stage {
	case domain.StageIngest:
		return s.Ingest(ctx, m, w)
	case domain.StageForecast:
		return s.Forecast(ctx, m, w)
	default:
		return s.record(domain.Failed(m.Name, stage, w.Target, "", fmt.Errorf("unknown stage %q", stage)))
	}
}

func (s *Sequencer) stageLogger(m domain.Model, stage domain.Stage, date domain.ProcessingDate) *slog.Logger {
	return s.logger.With("model", m.Name, "stage", string(stage), "date", date.String(), "run_id", s.runID)
}

// record counts the result and returns it unchanged.
func (s *Sequencer) record(r domain.StageResult) domain.StageResult {
	s.metrics.StageResults.WithLabelValues(string(r.Stage), string(r.Outcome)).Inc()
	return r
}

func (s *Sequencer) fail(log *slog.Logger, m domain.Model, stage domain.Stage, date domain.ProcessingDate, state domain.State, op string, err error, attrs ...any) domain.StageResult {
	serr := &StageError{Model: m.Name, Stage: stage, Date: date, Op: op, Err: err}
	log.Error(op+" failed", append([]any{"error", err, "state", string(state)}, attrs...)...)
	return s.record(domain.Failed(m.Name, stage, date, state, serr))
}

// markDone writes the ledger, then best-effort publishes the completion.
// A publish failure never un-marks the ledger.
func (s *Sequencer) markDone(ctx context.Context, log *slog.Logger, m domain.Model, stage domain.Stage, date domain.ProcessingDate, ev domain.CompletionEvent) error {
	if err := s.ledger.MarkDone(m.Name, stage, date); err != nil {
		return err
	}
	now := s.clock.Now()
	s.metrics.LedgerMarks.WithLabelValues(string(stage)).Inc()
	s.metrics.LastCompletion.WithLabelValues(m.Name, string(stage)).Set(float64(now.Unix()))

	ev.RunID = s.runID
	ev.Model = m.Name
	ev.Stage = stage
	ev.Date = date.String()
	ev.CompletedAt = now.UTC()
	if err := s.notifier.StageCompleted(ctx, ev); err != nil {
		log.Warn("publish completion event failed", "error", err)
	}
	return nil
}

// WithSession opens the project at path, runs fn, and closes the session on
// every exit path, including a panic in fn. A close error is joined to fn's.
func WithSession(ctx context.Context, opener SessionOpener, path string, fn func(domain.Session) error) (err error) {
	sess, err := opener.OpenProject(ctx, path)
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close project: %w", cerr))
		}
	}()
	return fn(sess)
}

func appendRunLog(path, line string) error {
	if path == "" {
		return nil
	}
	return ledger.NewRunLog(path).Append(line)
}
