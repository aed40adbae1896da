package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/adapter/engine"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, importCommand string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	body := fmt.Sprintf(`
shared:
  raw_folder: %[1]s/raw
  logs_folder: %[1]s/logs
  data_cutoff_time: "12:35"
  timezone: UTC
  log_format: text
  engine:
    import_command: [%[2]s]
models:
  Alpha:
    clip_shp: %[1]s/gis/alpha.shp
    destination: %[1]s/dss/alpha.dss
    targetWkt: 32748
    partA: ALPHA
`, dir, importCommand)
	path = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dir
}

func execute(t *testing.T, now time.Time, args ...string) (stdout, logs string, err error) {
	t.Helper()
	var out, logBuf bytes.Buffer
	cmd := newRootCmd(clockwork.NewFakeClockAt(now), &logBuf)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), logBuf.String(), err
}

func TestIngest_WaitsBeforeCutoff(t *testing.T) {
	path, dir := writeConfig(t, "sh")

	stdout, logs, err := execute(t, time.Date(2024, 3, 16, 11, 0, 0, 0, time.UTC), "ingest", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Alpha/ingest/20240315: waiting")
	assert.Contains(t, logs, "not available yet")
	assert.NoFileExists(t, filepath.Join(dir, "logs", "Alpha_processed_dates.txt"))
}

func TestIngest_SkipsAfterCutoff(t *testing.T) {
	path, dir := writeConfig(t, "sh")

	stdout, logs, err := execute(t, time.Date(2024, 3, 16, 13, 0, 0, 0, time.UTC), "ingest", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Alpha/ingest/20240315: skipped")
	assert.Contains(t, logs, "level=WARN")
	assert.NoFileExists(t, filepath.Join(dir, "logs", "Alpha_processed_dates.txt"))
	assert.FileExists(t, filepath.Join(dir, "logs", "Alpha.log"))
}

func TestRun_ForecastWithoutProjectIsSkipped(t *testing.T) {
	path, _ := writeConfig(t, "sh")

	stdout, _, err := execute(t, time.Date(2024, 3, 16, 11, 0, 0, 0, time.UTC), "run", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Alpha/forecast/20240315: skipped")
}

func TestIngest_ConfigError(t *testing.T) {
	_, _, err := execute(t, time.Now(), "ingest", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestIngest_LauncherMissing(t *testing.T) {
	path, _ := writeConfig(t, "/nonexistent/vortex-launcher")

	_, _, err := execute(t, time.Now(), "ingest", "--config", path)
	require.ErrorIs(t, err, engine.ErrLauncherUnavailable)
}

func TestDownload_RequiresServer(t *testing.T) {
	path, _ := writeConfig(t, "sh")
	t.Setenv("PIPELINE_FTP_SERVER", "")

	_, _, err := execute(t, time.Now(), "download", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PIPELINE_FTP_SERVER")
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := execute(t, time.Now(), "backfill")
	require.Error(t, err)
}

func TestServe_StopsWhenCancelled(t *testing.T) {
	path, dir := writeConfig(t, "sh")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out, logBuf bytes.Buffer
	cmd := newRootCmd(clockwork.NewFakeClockAt(time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)), &logBuf)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"serve", "--config", path, "--addr", "127.0.0.1:0"})

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, logBuf.String(), "shutdown complete")
	assert.NoFileExists(t, filepath.Join(dir, "logs", "Alpha_processed_dates.txt"))
}

func TestServe_LauncherMissing(t *testing.T) {
	path, _ := writeConfig(t, "/nonexistent/vortex-launcher")

	_, _, err := execute(t, time.Now(), "serve", "--config", path, "--addr", "127.0.0.1:0")
	require.ErrorIs(t, err, engine.ErrLauncherUnavailable)
}

func TestRun_ConfigErrorPrintedAsText(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"ingest", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, clockwork.NewFakeClock(), &stderr)

	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(stderr.String(), "basinctl: read config"), stderr.String())
}

func TestRun_FailureAfterLoadUsesConfiguredLogger(t *testing.T) {
	path, _ := writeConfig(t, "/nonexistent/vortex-launcher")
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"ingest", "--config", path}, clockwork.NewFakeClock(), &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "level=ERROR")
	assert.Contains(t, stderr.String(), `msg="basinctl failed"`)
	assert.Contains(t, stderr.String(), "command=ingest")
	assert.Contains(t, stderr.String(), "engine launcher unavailable")
}

func TestRun_Success(t *testing.T) {
	path, _ := writeConfig(t, "sh")
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"ingest", "--config", path}, clockwork.NewFakeClockAt(time.Date(2024, 3, 16, 11, 0, 0, 0, time.UTC)), &stderr)
	assert.Equal(t, 0, code)
}
