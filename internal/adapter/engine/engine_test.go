package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name   string
	args   []string
	script string
}

type fakeRunner struct {
	calls  []call
	output string
	err    error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	script, _ := os.ReadFile(args[len(args)-1])
	f.calls = append(f.calls, call{name: name, args: args, script: string(script)})
	return []byte(f.output), f.err
}

func testEngine(t *testing.T, r *fakeRunner) (*Engine, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	e := &Engine{
		cfg: Config{
			ImportCommand:  []string{"vortex", "-script"},
			ComputeCommand: []string{"hec-hms", "-script"},
			ScriptDir:      t.TempDir(),
		},
		run:     r.run,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: metrics,
	}
	return e, metrics
}

func importRequest() domain.ImportRequest {
	return domain.ImportRequest{
		Files:       []string{"/data/raw/ECMWF_new_3d.0125.202403151200.PREC.nc"},
		Variables:   []string{"rain"},
		ClipShape:   "/gis/alpha.shp",
		CellSize:    2000,
		TargetEPSG:  32748,
		Resampling:  "Bilinear",
		Destination: "/dss/alpha.dss",
		Write:       domain.Model{Name: "alpha", PartA: "ALPHA"}.WriteMetadata(),
	}
}

func TestImportRaster_RendersScript(t *testing.T) {
	r := &fakeRunner{output: "Import complete"}
	e, metrics := testEngine(t, r)

	require.NoError(t, e.ImportRaster(context.Background(), importRequest()))
	require.Len(t, r.calls, 1)

	c := r.calls[0]
	assert.Equal(t, "vortex", c.name)
	assert.Equal(t, "-script", c.args[0])
	assert.Contains(t, c.script, `.inFiles(["/data/raw/ECMWF_new_3d.0125.202403151200.PREC.nc"])`)
	assert.Contains(t, c.script, `.variables(["rain"])`)
	assert.Contains(t, c.script, `"targetCellSize": "2000"`)
	assert.Contains(t, c.script, `WktFactory.fromEpsg(32748)`)
	assert.Contains(t, c.script, `"resamplingMethod": "Bilinear"`)
	assert.Contains(t, c.script, `"partB": "ALPHA"`)
	assert.Contains(t, c.script, `"dataType": "PER-CUM"`)
	assert.Contains(t, c.script, `.destination("/dss/alpha.dss")`)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.EngineDuration))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.EngineErrors.WithLabelValues("import")))

	entries, err := os.ReadDir(e.cfg.ScriptDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory should be removed")
}

func TestImportRaster_NoFiles(t *testing.T) {
	e, _ := testEngine(t, &fakeRunner{})
	req := importRequest()
	req.Files = nil
	require.Error(t, e.ImportRaster(context.Background(), req))
}

func TestImportRaster_ProcessError(t *testing.T) {
	r := &fakeRunner{output: "java.lang.OutOfMemoryError", err: errors.New("exit status 1")}
	e, metrics := testEngine(t, r)

	err := e.ImportRaster(context.Background(), importRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
	assert.Contains(t, err.Error(), "OutOfMemoryError")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EngineErrors.WithLabelValues("import")))
}

func TestImportRaster_TracebackWithZeroExit(t *testing.T) {
	r := &fakeRunner{output: "Traceback (most recent call last):\n  File \"import.py\", line 3"}
	e, _ := testEngine(t, r)

	err := e.ImportRaster(context.Background(), importRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Traceback")
}

func TestSession_ComputeSucceedsWhenNamesContainError(t *testing.T) {
	r := &fakeRunner{output: "Opening project ERROR_CHECK\nComputing forecast \"ERROR Bounds\"\nCompute complete"}
	e, _ := testEngine(t, r)
	project := filepath.Join(t.TempDir(), "alpha.hms")
	require.NoError(t, os.WriteFile(project, nil, 0o644))

	sess, err := e.OpenProject(context.Background(), project)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.ComputeForecast(context.Background(), "ERROR Bounds"))
}

func TestScanForErrors(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"clean", "Compute complete\n", ""},
		{"word inside a line", "Forecast ERROR_CHECK computed\n", ""},
		{"error code at line start", "Opening project\nERROR 10001: Forecast not found\n", `engine reported "ERROR 10001:"`},
		{"indented error code", "  ERROR 42: bad grid\n", `engine reported "ERROR 42:"`},
		{"traceback", "Traceback (most recent call last):\n", `engine reported "Traceback (most recent call last)"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := scanForErrors([]byte(tt.output))
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestImportRaster_NoCommand(t *testing.T) {
	e, _ := testEngine(t, &fakeRunner{})
	e.cfg.ImportCommand = nil
	err := e.ImportRaster(context.Background(), importRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no engine command")
}

func TestSession_ComputeAndClose(t *testing.T) {
	r := &fakeRunner{output: "Compute complete"}
	e, _ := testEngine(t, r)

	project := filepath.Join(t.TempDir(), "alpha.hms")
	require.NoError(t, os.WriteFile(project, []byte("Project: alpha\n"), 0o644))

	sess, err := e.OpenProject(context.Background(), project)
	require.NoError(t, err)

	require.NoError(t, sess.ComputeForecast(context.Background(), "Daily Forecast"))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "hec-hms", r.calls[0].name)
	assert.Contains(t, r.calls[0].script, `Project.open("`+project+`")`)
	assert.Contains(t, r.calls[0].script, `project.computeForecast("Daily Forecast")`)
	assert.Contains(t, r.calls[0].script, "project.close()")

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.ComputeForecast(context.Background(), "Daily Forecast"), ErrSessionClosed)

	entries, err := os.ReadDir(e.cfg.ScriptDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenProject_Missing(t *testing.T) {
	e, _ := testEngine(t, &fakeRunner{})
	_, err := e.OpenProject(context.Background(), filepath.Join(t.TempDir(), "missing.hms"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSession_ComputeError(t *testing.T) {
	r := &fakeRunner{output: "ERROR 10001: Forecast \"Weekly\" not found"}
	e, _ := testEngine(t, r)
	project := filepath.Join(t.TempDir(), "alpha.hms")
	require.NoError(t, os.WriteFile(project, nil, 0o644))

	sess, err := e.OpenProject(context.Background(), project)
	require.NoError(t, err)
	defer sess.Close()

	err = sess.ComputeForecast(context.Background(), "Weekly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `compute forecast "Weekly"`)
}

func TestCheck(t *testing.T) {
	e, _ := testEngine(t, &fakeRunner{})
	e.lookPath = func(name string) (string, error) {
		if name == "hec-hms" {
			return "", errors.New("executable file not found in $PATH")
		}
		return "/usr/bin/" + name, nil
	}

	require.NoError(t, e.Check(domain.StageIngest))

	err := e.Check(domain.StageIngest, domain.StageForecast)
	require.ErrorIs(t, err, ErrLauncherUnavailable)
	assert.Contains(t, err.Error(), "forecast")

	e.cfg.ImportCommand = nil
	require.ErrorIs(t, e.Check(domain.StageIngest), ErrLauncherUnavailable)
}
