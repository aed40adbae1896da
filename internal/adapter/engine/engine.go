// Package engine drives the external hydrologic modeling engine by rendering a
// small Jython script per operation and running it with the engine's launcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/observability"
)

var (
	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("engine session closed")
	// ErrLauncherUnavailable means a configured launcher cannot be executed.
	// No model can make progress without it.
	ErrLauncherUnavailable = errors.New("engine launcher unavailable")
)

// errorMarkers flag a failed script even when the launcher exits zero, which
// the engine's Jython runner does after an uncaught exception. Both must start
// a line, so names that merely contain the word ERROR do not match.
var errorMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*Traceback \(most recent call last\)`),
	regexp.MustCompile(`(?m)^\s*ERROR \d+:`),
}

// Config selects the launchers. Each command is argv without the script path,
// which is appended, e.g. ["/opt/hms/hec-hms.sh", "-script"].
type Config struct {
	ImportCommand  []string
	ComputeCommand []string
	ScriptDir      string
	Timeout        time.Duration
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Engine implements the import and project operations of the modeling engine.
type Engine struct {
	cfg      Config
	run      runFunc
	lookPath func(string) (string, error)
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates an Engine that launches real processes.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{cfg: cfg, run: execRun, lookPath: exec.LookPath, logger: logger, metrics: metrics}
}

// Check verifies that the launchers needed by stages are executable.
func (e *Engine) Check(stages ...domain.Stage) error {
	for _, stage := range stages {
		command := e.cfg.ImportCommand
		if stage == domain.StageForecast {
			command = e.cfg.ComputeCommand
		}
		if len(command) == 0 {
			return fmt.Errorf("%w: no %s command configured", ErrLauncherUnavailable, stage)
		}
		if _, err := e.lookPath(command[0]); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrLauncherUnavailable, stage, err)
		}
	}
	return nil
}

// ImportRaster clips, reprojects and writes the given raw files into the
// destination store.
func (e *Engine) ImportRaster(ctx context.Context, req domain.ImportRequest) error {
	if len(req.Files) == 0 {
		return errors.New("import raster: no input files")
	}
	script, err := renderImport(req)
	if err != nil {
		return err
	}

	dir, err := e.scratchDir("import")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	return e.execScript(ctx, "import", e.cfg.ImportCommand, dir, script)
}

// OpenProject starts a session on the project at path. The session must be
// closed by the caller.
func (e *Engine) OpenProject(_ context.Context, path string) (domain.Session, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open project %s: is a directory", path)
	}

	dir, err := e.scratchDir("session")
	if err != nil {
		return nil, err
	}
	e.logger.Debug("engine session opened", "project", path, "scratch", dir)
	return &Session{engine: e, project: path, dir: dir}, nil
}

func (e *Engine) scratchDir(kind string) (string, error) {
	base := e.cfg.ScriptDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create script directory: %w", err)
	}
	dir, err := os.MkdirTemp(base, "engine-"+kind+"-*")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}

func (e *Engine) execScript(ctx context.Context, operation string, command []string, dir, script string) error {
	if len(command) == 0 {
		return fmt.Errorf("%s: no engine command configured", operation)
	}

	path := filepath.Join(dir, operation+".py")
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return fmt.Errorf("write %s script: %w", operation, err)
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, command[1:]...), path)
	start := time.Now()
	out, err := e.run(ctx, command[0], args...)
	e.metrics.EngineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err == nil {
		err = scanForErrors(out)
	}
	if err != nil {
		e.metrics.EngineErrors.WithLabelValues(operation).Inc()
		return fmt.Errorf("engine %s: %w: %s", operation, err, tail(out, 2048))
	}
	e.logger.Debug("engine call finished", "operation", operation, "duration", time.Since(start))
	return nil
}

func scanForErrors(out []byte) error {
	for _, marker := range errorMarkers {
		if m := marker.Find(out); m != nil {
			return fmt.Errorf("engine reported %q", strings.TrimSpace(string(m)))
		}
	}
	return nil
}

func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}

// Session is an open engine project.
type Session struct {
	engine  *Engine
	project string
	dir     string

	mu     sync.Mutex
	closed bool
}

// ComputeForecast runs one named forecast of the project.
func (s *Session) ComputeForecast(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	script, err := renderCompute(s.project, name)
	if err != nil {
		return err
	}
	if err := s.engine.execScript(ctx, "compute", s.engine.cfg.ComputeCommand, s.dir, script); err != nil {
		return fmt.Errorf("compute forecast %q: %w", name, err)
	}
	return nil
}

// Close releases the session's scratch space. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("close engine session: %w", err)
	}
	s.engine.logger.Debug("engine session closed", "project", s.project)
	return nil
}
