// Package report writes per-model dam telemetry tables.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/atomicfile"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Format is a report file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "dam_data"

// ParseFormat accepts "csv" or "xlsx", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Write stores rows at path as a table with a timestamp column followed by
// columns. The format follows the file extension. A variable missing from a
// row is left blank.
func Write(path string, columns []string, rows []domain.Observation) error {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	return atomicfile.WriteFrom(path, 0o644, func(w io.Writer) error {
		if format == FormatXLSX {
			return writeXLSX(w, columns, rows)
		}
		return writeCSV(w, columns, rows)
	})
}

func header(columns []string) []string {
	return append([]string{"timestamp"}, columns...)
}

func writeCSV(w io.Writer, columns []string, rows []domain.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(columns)); err != nil {
		return err
	}
	rec := make([]string, len(columns)+1)
	for _, row := range rows {
		rec[0] = row.Timestamp
		for i, col := range columns {
			rec[i+1] = ""
			if v, ok := row.Values[col]; ok {
				rec[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, columns []string, rows []domain.Observation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return err
	}
	head := header(columns)
	cells := make([]interface{}, len(head))
	for i, h := range head {
		cells[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &cells); err != nil {
		return err
	}

	for r, row := range rows {
		n := r + 2
		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheetName, cell, row.Timestamp); err != nil {
			return err
		}
		for i, col := range columns {
			v, ok := row.Values[col]
			if !ok {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(i+2, n)
			if err != nil {
				return err
			}
			if err := f.SetCellFloat(sheetName, cell, v, -1, 64); err != nil {
				return err
			}
		}
	}
	return f.Write(w)
}

// Collector fetches today's observations for one dam.
type Collector interface {
	Collect(ctx context.Context, damID string) ([]domain.Observation, error)
}

// DamReporter writes one telemetry table per model that has a dam.
type DamReporter struct {
	collector  Collector
	outputRoot string
	format     Format
	columns    []string
	logger     *slog.Logger
}

// NewDamReporter creates a DamReporter writing under outputRoot.
func NewDamReporter(collector Collector, outputRoot string, format Format, columns []string, logger *slog.Logger) *DamReporter {
	return &DamReporter{
		collector:  collector,
		outputRoot: outputRoot,
		format:     format,
		columns:    columns,
		logger:     logger,
	}
}

// Path is where the report for model is written.
func (r *DamReporter) Path(model string) string {
	return filepath.Join(r.outputRoot, model, "dam_data", model+"."+string(r.format))
}

// Run writes a report for every model with a dam ID. A model's failure is
// logged and the rest still run; the failures are returned per model.
func (r *DamReporter) Run(ctx context.Context, models []domain.Model) (written []string, failed map[string]error) {
	failed = make(map[string]error)
	for _, m := range models {
		if err := ctx.Err(); err != nil {
			failed[m.Name] = err
			break
		}
		log := r.logger.With("model", m.Name)
		if m.DamID == "" {
			log.Info("no dam_id configured, skipping")
			continue
		}

		rows, err := r.collector.Collect(ctx, m.DamID)
		if err != nil {
			log.Error("collect dam telemetry failed", "dam_id", m.DamID, "error", err)
			failed[m.Name] = err
			continue
		}
		path := r.Path(m.Name)
		if err := Write(path, r.columns, rows); err != nil {
			log.Error("write dam report failed", "path", path, "error", err)
			failed[m.Name] = err
			continue
		}
		log.Info("dam report written", "dam_id", m.DamID, "path", path, "rows", len(rows))
		written = append(written, path)
	}
	return written, failed
}
