// Package ledger persists which dates each pipeline stage has fully completed
// for each model. A date is present only after the stage succeeded end to end.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
)

// Ledger is the date set for one (model, stage) pair.
type Ledger struct {
	file *TokenFile
}

// Open returns the ledger stored at path.
func Open(path string) *Ledger {
	return &Ledger{file: NewTokenFile(path)}
}

func (l *Ledger) Path() string { return l.file.Path() }

// Contains reports whether date has been marked done.
func (l *Ledger) Contains(date domain.ProcessingDate) (bool, error) {
	return l.file.Contains(date.String())
}

// MarkDone records date. Marking an existing date is a no-op.
func (l *Ledger) MarkDone(date domain.ProcessingDate) error {
	_, err := l.file.Add(date.String())
	return err
}

// Dates returns the recorded dates in ascending order. Lines that are not
// YYYYMMDD dates are kept in the file but not returned.
func (l *Ledger) Dates() ([]domain.ProcessingDate, error) {
	tokens, err := l.file.Load()
	if err != nil {
		return nil, err
	}
	dates := make([]domain.ProcessingDate, 0, len(tokens))
	for _, t := range tokens {
		d, err := domain.ParseProcessingDate(t)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// Store resolves the ledger for a (model, stage) pair from the model
// configuration. The ingest and forecast ledgers of a model are distinct files.
type Store struct {
	mu     sync.Mutex
	models map[string]domain.Model
	open   map[string]*Ledger
}

// NewStore indexes the given models by name.
func NewStore(models []domain.Model) *Store {
	s := &Store{
		models: make(map[string]domain.Model, len(models)),
		open:   make(map[string]*Ledger),
	}
	for _, m := range models {
		s.models[m.Name] = m
	}
	return s
}

// Ledger returns the ledger for model and stage.
func (s *Store) Ledger(model string, stage domain.Stage) (*Ledger, error) {
	m, ok := s.models[model]
	if !ok {
		return nil, fmt.Errorf("ledger: unknown model %q", model)
	}
	path, err := m.LedgerPath(stage)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("ledger: model %s has no %s ledger path", model, stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.open[path]; ok {
		return l, nil
	}
	l := Open(path)
	s.open[path] = l
	return l, nil
}

// Contains reports whether stage has completed for model on date.
func (s *Store) Contains(model string, stage domain.Stage, date domain.ProcessingDate) (bool, error) {
	l, err := s.Ledger(model, stage)
	if err != nil {
		return false, err
	}
	return l.Contains(date)
}

// MarkDone records that stage completed for model on date.
func (s *Store) MarkDone(model string, stage domain.Stage, date domain.ProcessingDate) error {
	l, err := s.Ledger(model, stage)
	if err != nil {
		return err
	}
	return l.MarkDone(date)
}

// RunLog is an append-only, human-readable record of completed forecast runs.
type RunLog struct {
	path string
}

func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Append writes one line to the log, creating it if needed.
func (r *RunLog) Append(line string) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create run log directory: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log %s: %w", r.path, err)
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append run log %s: %w", r.path, err)
	}
	return f.Close()
}
