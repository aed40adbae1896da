// Package download mirrors recent raw precipitation files from the provider's
// server into the local raw-data folder.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/atomicfile"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/ledger"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/locator"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/observability"
	"github.com/jonboulle/clockwork"
)

// DefaultLookbackDays is how many days, today included, are checked per run.
const DefaultLookbackDays = 7

// Source is a remote file server session.
type Source interface {
	Connect(ctx context.Context) error
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, name string, w io.Writer) error
	Close() error
}

// Config controls a Downloader.
type Config struct {
	LocalDir     string
	LedgerPath   string // names already downloaded
	LookbackDays int
	Naming       locator.Naming
	Location     *time.Location
}

// Result lists what one run did with each candidate name.
type Result struct {
	Downloaded []string
	Skipped    []string // already in the ledger
	Missing    []string // not on the server
	Failed     map[string]error
}

// Downloader fetches every cycle variant of the last few days that is on the
// server and not downloaded before.
type Downloader struct {
	src     Source
	cfg     Config
	seen    *ledger.TokenFile
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Downloader. A zero LookbackDays uses DefaultLookbackDays.
func New(src Source, cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Downloader {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Downloader{
		src:     src,
		cfg:     cfg,
		seen:    ledger.NewTokenFile(cfg.LedgerPath),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Dates returns the dates checked by a run at now, newest first.
func (d *Downloader) Dates(now time.Time) []domain.ProcessingDate {
	today := domain.DateOf(now.In(d.cfg.Location))
	dates := make([]domain.ProcessingDate, 0, d.cfg.LookbackDays)
	for i := 0; i < d.cfg.LookbackDays; i++ {
		dates = append(dates, today.AddDays(-i))
	}
	return dates
}

// Run connects, lists the remote directory once, and downloads the missing
// files. Connection and listing errors abort the run; a failed file is logged
// and the remaining files are still attempted.
func (d *Downloader) Run(ctx context.Context) (res Result, err error) {
	res.Failed = make(map[string]error)

	if err := d.src.Connect(ctx); err != nil {
		return res, err
	}
	defer func() {
		if cerr := d.src.Close(); cerr != nil {
			d.logger.Warn("close remote session", "error", cerr)
		}
	}()

	remote, err := d.src.List(ctx)
	if err != nil {
		return res, err
	}
	slices.Sort(remote)

	for _, date := range d.Dates(d.clock.Now()) {
		for _, v := range d.cfg.Naming.Variants(date) {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			d.one(ctx, v.Name, remote, &res)
		}
	}

	d.logger.Info("download run finished",
		"downloaded", len(res.Downloaded),
		"skipped", len(res.Skipped),
		"missing", len(res.Missing),
		"failed", len(res.Failed),
	)
	return res, nil
}

func (d *Downloader) one(ctx context.Context, name string, remote []string, res *Result) {
	log := d.logger.With("file", name)

	if _, ok := slices.BinarySearch(remote, name); !ok {
		log.Info("file not available on server")
		res.Missing = append(res.Missing, name)
		return
	}

	done, err := d.seen.Contains(name)
	if err != nil {
		d.failed(log, name, err, res)
		return
	}
	if done {
		log.Info("skipping already downloaded file")
		res.Skipped = append(res.Skipped, name)
		return
	}

	dst := filepath.Join(d.cfg.LocalDir, name)
	err = atomicfile.WriteFrom(dst, 0o644, func(w io.Writer) error {
		return d.src.Fetch(ctx, name, w)
	})
	if err != nil {
		d.failed(log, name, err, res)
		return
	}
	if _, err := d.seen.Add(name); err != nil {
		// The file is in place; the next run downloads it again.
		d.failed(log, name, fmt.Errorf("record download: %w", err), res)
		return
	}

	d.metrics.FilesDownloaded.Inc()
	res.Downloaded = append(res.Downloaded, name)
	log.Info("downloaded", "path", dst)
}

func (d *Downloader) failed(log *slog.Logger, name string, err error, res *Result) {
	d.metrics.DownloadErrors.Inc()
	res.Failed[name] = err
	log.Error("download failed", "error", err)
}
