package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Stage names one ledger-tracked phase of the daily cycle.
type Stage string

const (
	StageIngest   Stage = "ingest"
	StageForecast Stage = "forecast"
)

// Stages lists the tracked stages in execution order.
var Stages = []Stage{StageIngest, StageForecast}

// ParseStage converts a command-line stage name.
func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToLower(s)) {
	case StageIngest:
		return StageIngest, nil
	case StageForecast:
		return StageForecast, nil
	default:
		return "", fmt.Errorf("unknown stage %q", s)
	}
}

// ForecastArtifact is one forecast definition inside an engine project: the
// control file whose date window is rewritten, and the name to compute.
type ForecastArtifact struct {
	Path string
	Name string
}

// WriteMetadata labels the records an import writes into the destination store.
type WriteMetadata struct {
	PartA    string
	PartB    string
	PartC    string
	PartF    string
	DataType string
	Units    string
}

// Model is one configured river basin. It is built from configuration once per
// invocation and not mutated afterwards.
type Model struct {
	Name        string
	RawDir      string
	ClipShape   string
	Destination string
	TargetEPSG  int
	CellSize    float64
	Resampling  string
	Variables   []string
	Cutoff      TimeOfDay
	Location    *time.Location
	PartA       string

	IngestLedger   string
	ForecastLedger string
	RunLog         string
	LogFile        string

	ProjectPath  string
	Forecasts    []ForecastArtifact
	StartTime    string
	ForecastTime string
	EndTime      string

	DamID string
}

// WriteMetadata returns the record labels for this model's precipitation import.
func (m Model) WriteMetadata() WriteMetadata {
	return WriteMetadata{
		PartA:    m.PartA,
		PartB:    strings.ToUpper(m.Name),
		PartC:    "PRECIPITATION",
		PartF:    "ECMWF",
		DataType: "PER-CUM",
		Units:    "mm",
	}
}

// LedgerPath returns the ledger file backing the given stage.
func (m Model) LedgerPath(stage Stage) (string, error) {
	switch stage {
	case StageIngest:
		return m.IngestLedger, nil
	case StageForecast:
		return m.ForecastLedger, nil
	default:
		return "", fmt.Errorf("model %s: no ledger for stage %q", m.Name, stage)
	}
}

// HasForecast reports whether the model defines an engine project to compute.
func (m Model) HasForecast() bool {
	return m.ProjectPath != "" && len(m.Forecasts) > 0
}

// RawFileReference is a located raw precipitation artifact.
type RawFileReference struct {
	Date    ProcessingDate
	Variant string // the cycle that matched, e.g. "1200"
	Path    string // absolute
}

func (r RawFileReference) Name() string {
	return filepath.Base(r.Path)
}
