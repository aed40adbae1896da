package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
models:
  Citarum:
    clip_shp: gis/citarum.shp
    destination: dss/citarum.dss
    targetWkt: 32748
    partA: CITARUM
  Alpha:
    clip_shp: gis/alpha.shp
    destination: dss/alpha.dss
    targetWkt: 32748
    partA: ALPHA
    data_cutoff_time: "10:15"
    project_path: hms/alpha/alpha.hms
    forecast_paths:
      - [hms/alpha/Daily.forecast, Daily]
      - path: hms/alpha/Weekly.forecast
        name: Weekly
    start_time: "00:00"
    forecast_time: "07:00"
    end_time: "23:00"
    dam_id: 117
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Local, cfg.Location)
	assert.Equal(t, 5, cfg.HorizonDays)
	assert.Equal(t, "data/raw", cfg.RawDir)
	assert.Equal(t, "data/output", cfg.OutputDir)
	assert.Equal(t, "csv", cfg.ReportFormat)
	assert.Equal(t, 7, cfg.FTP.LookbackDays)
	assert.Equal(t, "data/raw", cfg.FTP.LocalDir)
	assert.Equal(t, filepath.Join("logs", "downloaded_files.txt"), cfg.FTP.LedgerPath)
	assert.Equal(t, "basin.stage-completed", cfg.Kafka.Topic)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Empty(t, cfg.PushgatewayURL)
	assert.Equal(t, ":8080", cfg.Serve.HTTPAddr)
	assert.Equal(t, 15*time.Minute, cfg.Serve.Interval)
	assert.Equal(t, 10*time.Second, cfg.Serve.ShutdownTimeout)

	require.Len(t, cfg.Models, 2)
	c := cfg.Models[0]
	assert.Equal(t, "Citarum", c.Name, "models keep file order")
	assert.Equal(t, domain.TimeOfDay{Hour: 12, Minute: 35}, c.Cutoff)
	assert.Equal(t, 2000.0, c.CellSize)
	assert.Equal(t, "Bilinear", c.Resampling)
	assert.Equal(t, []string{"rain"}, c.Variables)
	assert.Equal(t, "data/raw", c.RawDir)
	assert.Equal(t, filepath.Join("logs", "Citarum_processed_dates.txt"), c.IngestLedger)
	assert.Equal(t, filepath.Join("logs", "Citarum_forecast_dates.txt"), c.ForecastLedger)
	assert.Equal(t, filepath.Join("logs", "Citarum_forecast_runs.log"), c.RunLog)
	assert.Equal(t, filepath.Join("logs", "Citarum.log"), c.LogFile)
	assert.False(t, c.HasForecast())
}

func TestLoad_ModelSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	a := cfg.Models[1]
	assert.Equal(t, "Alpha", a.Name)
	assert.Equal(t, domain.TimeOfDay{Hour: 10, Minute: 15}, a.Cutoff)
	assert.Equal(t, 32748, a.TargetEPSG)
	assert.Equal(t, "ALPHA", a.PartA)
	assert.Equal(t, "117", a.DamID)
	assert.Equal(t, []domain.ForecastArtifact{
		{Path: "hms/alpha/Daily.forecast", Name: "Daily"},
		{Path: "hms/alpha/Weekly.forecast", Name: "Weekly"},
	}, a.Forecasts)
	assert.Equal(t, "07:00", a.ForecastTime)
	assert.True(t, a.HasForecast())
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("PIPELINE_LOG_LEVEL", "debug")
	t.Setenv("PIPELINE_LOG_FORMAT", "text")
	t.Setenv("PIPELINE_FTP_SERVER", "ftp.example.org:21")
	t.Setenv("PIPELINE_FTP_USERNAME", "bmkg")
	t.Setenv("PIPELINE_FTP_PASSWORD", "secret")
	t.Setenv("PIPELINE_TELEMETRY_USERNAME", "operator")
	t.Setenv("PIPELINE_TELEMETRY_PASSWORD", "hunter2")
	t.Setenv("PIPELINE_KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("PIPELINE_KAFKA_TOPIC", "custom-topic")
	t.Setenv("PIPELINE_PUSHGATEWAY_URL", "http://pushgateway:9091")
	t.Setenv("PIPELINE_HTTP_ADDR", ":9090")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "ftp.example.org:21", cfg.FTP.Server)
	assert.Equal(t, "bmkg", cfg.FTP.Username)
	assert.Equal(t, "secret", cfg.FTP.Password)
	assert.Equal(t, "operator", cfg.Telemetry.Username)
	assert.Equal(t, "hunter2", cfg.Telemetry.Password)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "custom-topic", cfg.Kafka.Topic)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, "http://pushgateway:9091", cfg.PushgatewayURL)
	assert.Equal(t, ":9090", cfg.Serve.HTTPAddr)
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	t.Setenv("PIPELINE_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
}

func TestLoad_SharedSettings(t *testing.T) {
	body := `
shared:
  raw_folder: /srv/raw
  data_cutoff_time: "13:00"
  timezone: Asia/Jakarta
  horizon_days: 3
  report_format: xlsx
  engine:
    import_command: [/opt/vortex/jython.sh]
    compute_command: [/opt/hms/hec-hms.sh, -script]
    timeout: 45m
  ftp:
    remote_directory: /ecmwf
    lookback_days: 3
  serve:
    interval: 5m
    shutdown_timeout: 30s
` + minimalConfig
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, "Asia/Jakarta", cfg.Location.String())
	assert.Equal(t, 3, cfg.HorizonDays)
	assert.Equal(t, "xlsx", cfg.ReportFormat)
	assert.Equal(t, []string{"/opt/hms/hec-hms.sh", "-script"}, cfg.Engine.ComputeCommand)
	assert.Equal(t, 45*time.Minute, cfg.Engine.Timeout)
	assert.Equal(t, "/srv/raw", cfg.FTP.LocalDir)
	assert.Equal(t, "/ecmwf", cfg.FTP.RemoteDir)
	assert.Equal(t, "/srv/raw", cfg.Models[0].RawDir)
	assert.Equal(t, domain.TimeOfDay{Hour: 13}, cfg.Models[0].Cutoff)
	assert.Equal(t, domain.TimeOfDay{Hour: 10, Minute: 15}, cfg.Models[1].Cutoff)
	assert.Equal(t, "Asia/Jakarta", cfg.Models[0].Location.String())
	assert.Equal(t, 5*time.Minute, cfg.Serve.Interval)
	assert.Equal(t, 30*time.Second, cfg.Serve.ShutdownTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_MissingRequiredField(t *testing.T) {
	body := `
models:
  Alpha:
    clip_shp: gis/alpha.shp
    targetWkt: 32748
    partA: ALPHA
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model Alpha: destination")
}

func TestLoad_NoModels(t *testing.T) {
	_, err := Load(writeConfig(t, "shared:\n  raw_folder: data/raw\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no models configured")
}

func TestLoad_InvalidCutoff(t *testing.T) {
	body := "shared:\n  data_cutoff_time: \"25:00\"\n" + minimalConfig
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_cutoff_time")
}

func TestLoad_InvalidTimezone(t *testing.T) {
	body := "shared:\n  timezone: Mars/Olympus\n" + minimalConfig
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
}

func TestLoad_SharedLedgerPath(t *testing.T) {
	body := `
models:
  Alpha:
    clip_shp: a.shp
    destination: a.dss
    targetWkt: 32748
    partA: A
    processed_dates_log: logs/dates.txt
    forecast_dates_log: logs/dates.txt
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used by Alpha ingest")
}

func TestLoad_ProjectWithoutForecasts(t *testing.T) {
	body := `
models:
  Alpha:
    clip_shp: a.shp
    destination: a.dss
    targetWkt: 32748
    partA: A
    project_path: hms/alpha.hms
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forecast_paths")
}

func TestLoad_MalformedForecastPath(t *testing.T) {
	body := `
models:
  Alpha:
    clip_shp: a.shp
    destination: a.dss
    targetWkt: 32748
    partA: A
    project_path: hms/alpha.hms
    forecast_paths:
      - [only-a-path]
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forecast path must be")
}

func TestLoad_InvalidPushgatewayURL(t *testing.T) {
	t.Setenv("PIPELINE_PUSHGATEWAY_URL", "not a url")
	_, err := Load(writeConfig(t, minimalConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PUSHGATEWAY_URL")
}
