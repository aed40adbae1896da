// Package locator resolves a processing date to a raw precipitation file,
// trying the configured cycle variants in order.
package locator

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
)

// Naming is the raw file naming contract:
//
//	<source>_<resolution>.<YYYYMMDD><cycle>.<variable>.nc
//
// e.g. "ECMWF_new_3d.0125.202403151200.PREC.nc". Cycles are tried in order;
// the first is preferred.
type Naming struct {
	Source     string
	Resolution string
	Variable   string
	Cycles     []string
}

// DefaultNaming is the ECMWF 3-day precipitation product, noon cycle first.
func DefaultNaming() Naming {
	return Naming{
		Source:     "ECMWF_new",
		Resolution: "3d.0125",
		Variable:   "PREC",
		Cycles:     []string{"1200", "0000"},
	}
}

// FileName renders the name for date and cycle.
func (n Naming) FileName(date domain.ProcessingDate, cycle string) string {
	return fmt.Sprintf("%s_%s.%s%s.%s.nc", n.Source, n.Resolution, date, cycle, n.Variable)
}

// Variants returns the candidate file names for date in preference order.
func (n Naming) Variants(date domain.ProcessingDate) []Variant {
	out := make([]Variant, 0, len(n.Cycles))
	for _, c := range n.Cycles {
		out = append(out, Variant{Cycle: c, Name: n.FileName(date, c)})
	}
	return out
}

// Variant is one candidate name for a date.
type Variant struct {
	Cycle string
	Name  string
}

// Locator finds raw files on a filesystem rooted at a raw-data directory.
type Locator struct {
	naming Naming
	fsFor  func(root string) fs.FS
	logger *slog.Logger
}

// New returns a Locator over the local filesystem.
func New(naming Naming, logger *slog.Logger) *Locator {
	return &Locator{naming: naming, fsFor: os.DirFS, logger: logger}
}

// NewWithFS returns a Locator that resolves roots through fsFor. Used in tests
// with fstest.MapFS.
func NewWithFS(naming Naming, fsFor func(root string) fs.FS, logger *slog.Logger) *Locator {
	return &Locator{naming: naming, fsFor: fsFor, logger: logger}
}

func (l *Locator) Naming() Naming { return l.naming }

// Locate returns the first existing variant for date under rawRoot. A date with
// no file yet reports found == false and a nil error; err is reserved for
// filesystem failures other than absence.
func (l *Locator) Locate(rawRoot string, date domain.ProcessingDate) (domain.RawFileReference, bool, error) {
	absRoot, err := filepath.Abs(rawRoot)
	if err != nil {
		return domain.RawFileReference{}, false, fmt.Errorf("resolve raw folder %s: %w", rawRoot, err)
	}
	fsys := l.fsFor(rawRoot)

	for _, v := range l.naming.Variants(date) {
		path := filepath.Join(absRoot, v.Name)
		l.logger.Debug("checking raw file", "path", path)

		info, err := fs.Stat(fsys, v.Name)
		switch {
		case err == nil && !info.IsDir():
			l.logger.Debug("raw file exists", "path", path, "cycle", v.Cycle)
			return domain.RawFileReference{Date: date, Variant: v.Cycle, Path: path}, true, nil
		case err == nil:
			continue
		case errors.Is(err, fs.ErrNotExist):
			continue
		default:
			return domain.RawFileReference{}, false, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return domain.RawFileReference{}, false, nil
}
