package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", "json", &buf)

	logger.Info("hidden")
	logger.Warn("shown", "model", "alpha")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"model":"alpha"`)
}

func TestNewLogger_TextAndUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("loud", "text", &buf)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestWithFile_FansOut(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger("info", "json", &buf)
	path := filepath.Join(t.TempDir(), "logs", "alpha.log")

	logger, closeFn, err := WithFile(base, path, "info")
	require.NoError(t, err)
	logger.With("model", "alpha").Warn("no data", "date", "20240315")
	require.NoError(t, closeFn())

	assert.Contains(t, buf.String(), `"msg":"no data"`)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "model=alpha"), string(data))
	assert.Contains(t, string(data), "date=20240315")
}

func TestWithFile_EmptyPath(t *testing.T) {
	base := NewLogger("info", "json", &bytes.Buffer{})
	logger, closeFn, err := WithFile(base, "", "info")
	require.NoError(t, err)
	assert.Same(t, base, logger)
	assert.NoError(t, closeFn())
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetricsForTesting()

	a.StageResults.WithLabelValues("ingest", "completed").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.StageResults.WithLabelValues("ingest", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StageResults.WithLabelValues("ingest", "completed")))

	families, err := a.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
