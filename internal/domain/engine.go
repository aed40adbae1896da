package domain

import "context"

// ImportRequest describes one raster import into the destination store.
type ImportRequest struct {
	Files       []string
	Variables   []string
	ClipShape   string
	CellSize    float64
	TargetEPSG  int
	Resampling  string
	Destination string
	Write       WriteMetadata
}

// Session is an open engine project. Callers must Close it on every exit path.
type Session interface {
	// ComputeForecast runs the named forecast in the open project.
	ComputeForecast(ctx context.Context, name string) error

	// Close releases the engine session.
	Close() error
}
