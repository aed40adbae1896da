package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
)

// Ingest imports the window's target date for m if it has not been ingested
// yet. Missing raw data is routed through the cutoff gate: before the cutoff
// the result is Waiting, from the cutoff on it is Skipped for the day.
func (s *Sequencer) Ingest(ctx context.Context, m domain.Model, w domain.Window) domain.StageResult {
	const stage = domain.StageIngest
	date := w.Target
	log := s.stageLogger(m, stage, date)

	var ref domain.RawFileReference
	state := domain.StateAwaitingIngestData
	for {
		switch state {
		case domain.StateAwaitingIngestData:
			done, err := s.ledger.Contains(m.Name, stage, date)
			if err != nil {
				return s.fail(log, m, stage, date, domain.StateIngestFailed, "check ingest ledger", err)
			}
			if done {
				log.Info("data already ingested")
				return s.record(domain.Skipped(m.Name, stage, date, domain.StateIngested, domain.ReasonAlreadyDone))
			}

			log.Info("checking raw data", "raw_folder", m.RawDir)
			var found bool
			ref, found, err = s.locator.Locate(m.RawDir, date)
			if err != nil {
				return s.fail(log, m, stage, date, domain.StateIngestFailed, "locate raw file", err, "raw_folder", m.RawDir)
			}
			if found {
				log.Info("found raw file", "path", ref.Path, "cycle", ref.Variant)
			}

			switch domain.Decide(w.Now, m.Cutoff, found) {
			case domain.Wait:
				log.Info("raw data not available yet, will retry on next run", "raw_folder", m.RawDir, "cutoff", m.Cutoff.String())
				return s.record(domain.Waiting(m.Name, stage, date, state))
			case domain.SkipToday:
				log.Warn("no raw data by cutoff, skipping date", "raw_folder", m.RawDir, "cutoff", m.Cutoff.String())
				return s.record(domain.Skipped(m.Name, stage, date, state, domain.ReasonCutoff))
			default:
				state = domain.StateIngesting
			}

		case domain.StateIngesting:
			req := importRequest(m, ref)
			log.Info("importing raw data", "file", ref.Path, "cycle", ref.Variant)
			if err := s.engine.ImportRaster(ctx, req); err != nil {
				return s.fail(log, m, stage, date, domain.StateIngestFailed, "import raster", err,
					"file", ref.Path,
					"clip_shp", req.ClipShape,
					"destination", req.Destination,
					"target_epsg", req.TargetEPSG,
					"cell_size", req.CellSize,
					"resampling", req.Resampling,
					"write_options", fmt.Sprintf("%+v", req.Write),
				)
			}
			ev := domain.CompletionEvent{File: ref.Name()}
			if err := s.markDone(ctx, log, m, stage, date, ev); err != nil {
				return s.fail(log, m, stage, date, domain.StateIngestFailed, "mark ingest ledger", err)
			}
			state = domain.StateIngested

		case domain.StateIngested:
			log.Info("data import complete", "file", ref.Path, "destination", m.Destination)
			return s.record(domain.Completed(m.Name, stage, date, state))

		default:
			return s.fail(log, m, stage, date, domain.StateIngestFailed, "ingest", fmt.Errorf("unexpected state %s", state))
		}
	}
}

func importRequest(m domain.Model, ref domain.RawFileReference) domain.ImportRequest {
	return domain.ImportRequest{
		Files:       []string{ref.Path},
		Variables:   m.Variables,
		ClipShape:   m.ClipShape,
		CellSize:    m.CellSize,
		TargetEPSG:  m.TargetEPSG,
		Resampling:  m.Resampling,
		Destination: m.Destination,
		Write:       m.WriteMetadata(),
	}
}
