package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/atomicfile"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
)

// Forecast computes every configured forecast of m for the window's target
// date, once the date is in the ingest ledger and not yet in the forecast
// ledger. The forecast ledger is marked only when all forecasts succeed.
func (s *Sequencer) Forecast(ctx context.Context, m domain.Model, w domain.Window) domain.StageResult {
	const stage = domain.StageForecast
	date := w.Target
	log := s.stageLogger(m, stage, date)

	if !m.HasForecast() {
		log.Info("no forecast configured")
		return s.record(domain.Skipped(m.Name, stage, date, domain.StateAwaitingForecastRun, domain.ReasonNotConfigured))
	}

	state := domain.StateIngested
	for {
		switch state {
		case domain.StateIngested:
			// Forecasts usually run in a separate invocation hours after the
			// import, so the ingest ledger is checked again here.
			ingested, err := s.ledger.Contains(m.Name, domain.StageIngest, date)
			if err != nil {
				return s.fail(log, m, stage, date, domain.StateForecastFailed, "check ingest ledger", err)
			}
			switch domain.Decide(w.Now, m.Cutoff, ingested) {
			case domain.Wait:
				log.Info("data not imported yet, waiting", "cutoff", m.Cutoff.String())
				return s.record(domain.Waiting(m.Name, stage, date, domain.StateAwaitingIngestData))
			case domain.SkipToday:
				log.Warn("data not imported by cutoff, skipping forecast for today", "cutoff", m.Cutoff.String())
				return s.record(domain.Skipped(m.Name, stage, date, domain.StateAwaitingIngestData, domain.ReasonCutoff))
			default:
				state = domain.StateAwaitingForecastRun
			}

		case domain.StateAwaitingForecastRun:
			done, err := s.ledger.Contains(m.Name, stage, date)
			if err != nil {
				return s.fail(log, m, stage, date, domain.StateForecastFailed, "check forecast ledger", err)
			}
			if done {
				log.Info("forecast already run")
				return s.record(domain.Skipped(m.Name, stage, date, domain.StateDone, domain.ReasonAlreadyDone))
			}
			state = domain.StateRunningForecast

		case domain.StateRunningForecast:
			fields := w.ForecastFields(m.StartTime, m.ForecastTime, m.EndTime)
			if err := s.runForecasts(ctx, log, m, fields); err != nil {
				return s.fail(log, m, stage, date, domain.StateForecastFailed, "run forecasts", err, "project", m.ProjectPath)
			}

			names := make([]string, 0, len(m.Forecasts))
			for _, fc := range m.Forecasts {
				names = append(names, fc.Name)
			}
			if err := s.markDone(ctx, log, m, stage, date, domain.CompletionEvent{Forecasts: names}); err != nil {
				return s.fail(log, m, stage, date, domain.StateForecastFailed, "mark forecast ledger", err)
			}
			line := fmt.Sprintf("%s %s %s", date, s.runID, s.clock.Now().UTC().Format("2006-01-02T15:04:05Z"))
			if err := appendRunLog(m.RunLog, line); err != nil {
				log.Error("append run log failed", "error", err, "run_log", m.RunLog)
			}
			state = domain.StateDone

		case domain.StateDone:
			log.Info("forecast complete", "forecasts", len(m.Forecasts))
			return s.record(domain.Completed(m.Name, stage, date, state))

		default:
			return s.fail(log, m, stage, date, domain.StateForecastFailed, "forecast", fmt.Errorf("unexpected state %s", state))
		}
	}
}

// runForecasts rewrites and computes every forecast inside one engine session.
// It stops at the first failure; completed forecasts are not tracked
// individually, so a retry recomputes all of them.
func (s *Sequencer) runForecasts(ctx context.Context, log *slog.Logger, m domain.Model, fields []domain.Field) error {
	return WithSession(ctx, s.engine, m.ProjectPath, func(sess domain.Session) error {
		for _, fc := range m.Forecasts {
			n, err := rewriteParameterFile(fc.Path, fields)
			if err != nil {
				log.Error("update forecast parameters failed", "error", err, "file", fc.Path, "fields", fields)
				return fmt.Errorf("update parameters %s: %w", fc.Path, err)
			}
			log.Info("forecast parameters updated", "file", fc.Path, "lines", n)

			if err := sess.ComputeForecast(ctx, fc.Name); err != nil {
				log.Error("compute forecast failed", "error", err, "forecast", fc.Name, "project", m.ProjectPath)
				return fmt.Errorf("compute %q: %w", fc.Name, err)
			}
			log.Info("forecast computed", "forecast", fc.Name)
		}
		return nil
	})
}

func rewriteParameterFile(path string, fields []domain.Field) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, errors.New("is a directory")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	patched, n := domain.RewriteFields(content, fields)
	if err := atomicfile.WriteFile(path, patched, info.Mode().Perm()); err != nil {
		return 0, err
	}
	return n, nil
}
