// Package config loads the pipeline settings: a YAML file describing the shared
// settings and the river-basin models, plus secrets and runtime overrides from
// PIPELINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix         = "PIPELINE"
	DefaultConfigPath = "config.yaml"
)

// Config holds all settings for one invocation.
type Config struct {
	Path string

	LogLevel       string
	LogFormat      string
	Location       *time.Location
	HorizonDays    int
	RawDir         string
	OutputDir      string
	ReportFormat   string
	PushgatewayURL string

	Engine    EngineConfig
	FTP       FTPConfig
	Telemetry TelemetryConfig
	Kafka     KafkaConfig
	Serve     ServeConfig

	// Models in configuration file order.
	Models []domain.Model
}

type EngineConfig struct {
	ImportCommand  []string
	ComputeCommand []string
	ScriptDir      string
	Timeout        time.Duration
}

type FTPConfig struct {
	Server       string
	Username     string
	Password     string
	RemoteDir    string
	LocalDir     string
	LookbackDays int
	LedgerPath   string
	Timeout      time.Duration
}

type TelemetryConfig struct {
	BaseURL           string
	Username          string
	Password          string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// KafkaConfig enables completion events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// ServeConfig drives the long-running serve mode.
type ServeConfig struct {
	HTTPAddr        string
	Interval        time.Duration
	ShutdownTimeout time.Duration
}

// Env is read from PIPELINE_* variables. Credentials are only ever taken from
// the environment.
type Env struct {
	Config            string   `envconfig:"CONFIG"`
	LogLevel          string   `envconfig:"LOG_LEVEL"`
	LogFormat         string   `envconfig:"LOG_FORMAT"`
	FTPServer         string   `envconfig:"FTP_SERVER"`
	FTPUsername       string   `envconfig:"FTP_USERNAME"`
	FTPPassword       string   `envconfig:"FTP_PASSWORD"`
	TelemetryUsername string   `envconfig:"TELEMETRY_USERNAME"`
	TelemetryPassword string   `envconfig:"TELEMETRY_PASSWORD"`
	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic        string   `envconfig:"KAFKA_TOPIC"`
	PushgatewayURL    string   `envconfig:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	HTTPAddr          string   `envconfig:"HTTP_ADDR"`
}

// Load reads the environment and the configuration file, applies defaults and
// validates the result. path overrides PIPELINE_CONFIG; with neither set,
// config.yaml in the working directory is used. Any error means no model may
// be processed.
func Load(path string) (*Config, error) {
	var env Env
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if path == "" {
		path = env.Config
	}
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	f.applyDefaults()
	if err := validate(f, env); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg, err := build(f, env)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func parse(data []byte) (*file, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// file mirrors the YAML document.
type file struct {
	Shared sharedFile `yaml:"shared"`
	Models modelList  `yaml:"models"`
}

type sharedFile struct {
	RawFolder      string        `yaml:"raw_folder"`
	OutputFolder   string        `yaml:"output_folder"`
	LogsFolder     string        `yaml:"logs_folder"`
	DataCutoffTime string        `yaml:"data_cutoff_time" validate:"hhmm"`
	Timezone       string        `yaml:"timezone" validate:"required"`
	HorizonDays    int           `yaml:"horizon_days" validate:"gte=1,lte=15"`
	CellSize       float64       `yaml:"cell_size" validate:"gt=0"`
	Resampling     string        `yaml:"resampling" validate:"required"`
	LogLevel       string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string        `yaml:"log_format" validate:"oneof=json text"`
	ReportFormat   string        `yaml:"report_format" validate:"oneof=csv xlsx"`
	Engine         engineFile    `yaml:"engine"`
	FTP            ftpFile       `yaml:"ftp"`
	Telemetry      telemetryFile `yaml:"telemetry"`
	Kafka          kafkaFile     `yaml:"kafka"`
	Serve          serveFile     `yaml:"serve"`
}

type engineFile struct {
	ImportCommand  []string      `yaml:"import_command"`
	ComputeCommand []string      `yaml:"compute_command"`
	ScriptDir      string        `yaml:"script_dir"`
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
}

type ftpFile struct {
	RemoteDirectory    string        `yaml:"remote_directory"`
	LocalDirectory     string        `yaml:"local_directory"`
	LookbackDays       int           `yaml:"lookback_days" validate:"gte=1,lte=31"`
	DownloadedFilesLog string        `yaml:"downloaded_files_log"`
	Timeout            time.Duration `yaml:"timeout" validate:"gte=0"`
}

type telemetryFile struct {
	BaseURL           string        `yaml:"base_url" validate:"url"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
}

type kafkaFile struct {
	Topic string `yaml:"topic"`
}

type serveFile struct {
	HTTPAddr        string        `yaml:"http_addr"`
	Interval        time.Duration `yaml:"interval" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type modelFile struct {
	Name              string         `yaml:"-" validate:"required,excludesall=/\\"`
	LogFile           string         `yaml:"log_file"`
	ClipShp           string         `yaml:"clip_shp" validate:"required"`
	Destination       string         `yaml:"destination" validate:"required"`
	TargetWkt         int            `yaml:"targetWkt" validate:"required,gt=0"`
	PartA             string         `yaml:"partA" validate:"required"`
	RawFolder         string         `yaml:"raw_folder"`
	DataCutoffTime    string         `yaml:"data_cutoff_time" validate:"omitempty,hhmm"`
	CellSize          float64        `yaml:"cell_size" validate:"gte=0"`
	Resampling        string         `yaml:"resampling"`
	ProcessedDatesLog string         `yaml:"processed_dates_log"`
	ForecastDatesLog  string         `yaml:"forecast_dates_log"`
	ForecastRunsLog   string         `yaml:"forecast_runs_log"`
	ProjectPath       string         `yaml:"project_path"`
	ForecastPaths     []forecastPath `yaml:"forecast_paths" validate:"required_with=ProjectPath,dive"`
	StartTime         string         `yaml:"start_time" validate:"omitempty,hhmm"`
	ForecastTime      string         `yaml:"forecast_time" validate:"omitempty,hhmm"`
	EndTime           string         `yaml:"end_time" validate:"omitempty,hhmm"`
	DamID             string         `yaml:"dam_id"`
}

// modelList decodes the models mapping keeping the file order, which is the
// processing order.
type modelList []modelFile

func (l *modelList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: models must map model names to settings", n.Line)
	}
	seen := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: duplicate model %q", key.Line, key.Value)
		}
		seen[key.Value] = true

		var m modelFile
		if err := value.Decode(&m); err != nil {
			return fmt.Errorf("model %s: %w", key.Value, err)
		}
		m.Name = key.Value
		*l = append(*l, m)
	}
	return nil
}

// forecastPath accepts either a [path, name] pair or a {path, name} mapping.
type forecastPath struct {
	Path string `yaml:"path" validate:"required"`
	Name string `yaml:"name" validate:"required"`
}

func (p *forecastPath) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		if len(n.Content) != 2 {
			return fmt.Errorf("line %d: forecast path must be [file, forecast name]", n.Line)
		}
		p.Path, p.Name = n.Content[0].Value, n.Content[1].Value
		return nil
	case yaml.MappingNode:
		type plain forecastPath
		return n.Decode((*plain)(p))
	default:
		return fmt.Errorf("line %d: forecast path must be [file, forecast name]", n.Line)
	}
}

func (f *file) applyDefaults() {
	s := &f.Shared
	setDefault(&s.RawFolder, "data/raw")
	setDefault(&s.OutputFolder, "data/output")
	setDefault(&s.LogsFolder, "logs")
	setDefault(&s.DataCutoffTime, "12:35")
	setDefault(&s.Timezone, "Local")
	setDefault(&s.Resampling, "Bilinear")
	setDefault(&s.LogLevel, "info")
	setDefault(&s.LogFormat, "json")
	setDefault(&s.ReportFormat, "csv")
	if s.HorizonDays == 0 {
		s.HorizonDays = domain.DefaultHorizonDays
	}
	if s.CellSize == 0 {
		s.CellSize = 2000
	}

	setDefault(&s.FTP.LocalDirectory, s.RawFolder)
	setDefault(&s.FTP.DownloadedFilesLog, filepath.Join(s.LogsFolder, "downloaded_files.txt"))
	if s.FTP.LookbackDays == 0 {
		s.FTP.LookbackDays = 7
	}
	if s.FTP.Timeout == 0 {
		s.FTP.Timeout = time.Minute
	}

	setDefault(&s.Telemetry.BaseURL, "https://sinbad.sda.pu.go.id/API/PUB/v1")
	if s.Telemetry.RequestsPerSecond == 0 {
		s.Telemetry.RequestsPerSecond = 2
	}
	if s.Telemetry.Timeout == 0 {
		s.Telemetry.Timeout = 30 * time.Second
	}
	setDefault(&s.Kafka.Topic, "basin.stage-completed")

	setDefault(&s.Serve.HTTPAddr, ":8080")
	if s.Serve.Interval == 0 {
		s.Serve.Interval = 15 * time.Minute
	}
	if s.Serve.ShutdownTimeout == 0 {
		s.Serve.ShutdownTimeout = 10 * time.Second
	}

	for i := range f.Models {
		m := &f.Models[i]
		setDefault(&m.RawFolder, s.RawFolder)
		setDefault(&m.DataCutoffTime, s.DataCutoffTime)
		setDefault(&m.Resampling, s.Resampling)
		if m.CellSize == 0 {
			m.CellSize = s.CellSize
		}
		setDefault(&m.LogFile, filepath.Join(s.LogsFolder, m.Name+".log"))
		setDefault(&m.ProcessedDatesLog, filepath.Join(s.LogsFolder, m.Name+"_processed_dates.txt"))
		setDefault(&m.ForecastDatesLog, filepath.Join(s.LogsFolder, m.Name+"_forecast_dates.txt"))
		setDefault(&m.ForecastRunsLog, filepath.Join(s.LogsFolder, m.Name+"_forecast_runs.log"))
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"yaml", "envconfig"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
	return v
}

func validate(f *file, env Env) error {
	v := newValidator()
	var errs []error

	if err := v.Struct(&f.Shared); err != nil {
		errs = append(errs, fieldErrors("shared", err)...)
	}
	if err := v.Struct(&env); err != nil {
		errs = append(errs, fieldErrors("environment "+envPrefix+"_", err)...)
	}
	if len(f.Models) == 0 {
		errs = append(errs, errors.New("no models configured"))
	}

	ledgers := make(map[string]string)
	claim := func(model, path string) {
		key := filepath.Clean(path)
		if owner, ok := ledgers[key]; ok {
			errs = append(errs, fmt.Errorf("model %s: ledger %s is already used by %s", model, path, owner))
			return
		}
		ledgers[key] = model
	}
	for i := range f.Models {
		m := &f.Models[i]
		if err := v.Struct(m); err != nil {
			errs = append(errs, fieldErrors("model "+m.Name, err)...)
		}
		claim(m.Name+" ingest", m.ProcessedDatesLog)
		claim(m.Name+" forecast", m.ForecastDatesLog)
		if len(m.ForecastPaths) > 0 && m.ProjectPath == "" {
			errs = append(errs, fmt.Errorf("model %s: forecast_paths set without project_path", m.Name))
		}
	}
	return errors.Join(errs...)
}

// fieldErrors flattens validator errors into "scope: field: rule" messages.
func fieldErrors(scope string, err error) []error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{fmt.Errorf("%s: %w", scope, err)}
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out = append(out, fmt.Errorf("%s: %s: failed %q (got %v)", scope, field, rule, fe.Value()))
	}
	return out
}

func build(f *file, env Env) (*Config, error) {
	s := f.Shared
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("shared: timezone: %w", err)
	}

	cfg := &Config{
		LogLevel:       firstNonEmpty(env.LogLevel, s.LogLevel),
		LogFormat:      firstNonEmpty(env.LogFormat, s.LogFormat),
		Location:       loc,
		HorizonDays:    s.HorizonDays,
		RawDir:         s.RawFolder,
		OutputDir:      s.OutputFolder,
		ReportFormat:   s.ReportFormat,
		PushgatewayURL: env.PushgatewayURL,
		Engine: EngineConfig{
			ImportCommand:  s.Engine.ImportCommand,
			ComputeCommand: s.Engine.ComputeCommand,
			ScriptDir:      s.Engine.ScriptDir,
			Timeout:        s.Engine.Timeout,
		},
		FTP: FTPConfig{
			Server:       env.FTPServer,
			Username:     env.FTPUsername,
			Password:     env.FTPPassword,
			RemoteDir:    s.FTP.RemoteDirectory,
			LocalDir:     s.FTP.LocalDirectory,
			LookbackDays: s.FTP.LookbackDays,
			LedgerPath:   s.FTP.DownloadedFilesLog,
			Timeout:      s.FTP.Timeout,
		},
		Telemetry: TelemetryConfig{
			BaseURL:           s.Telemetry.BaseURL,
			Username:          env.TelemetryUsername,
			Password:          env.TelemetryPassword,
			RequestsPerSecond: s.Telemetry.RequestsPerSecond,
			Timeout:           s.Telemetry.Timeout,
		},
		Kafka: KafkaConfig{
			Brokers: env.KafkaBrokers,
			Topic:   firstNonEmpty(env.KafkaTopic, s.Kafka.Topic),
		},
		Serve: ServeConfig{
			HTTPAddr:        firstNonEmpty(env.HTTPAddr, s.Serve.HTTPAddr),
			Interval:        s.Serve.Interval,
			ShutdownTimeout: s.Serve.ShutdownTimeout,
		},
	}

	for _, mf := range f.Models {
		cutoff, err := domain.ParseTimeOfDay(mf.DataCutoffTime)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mf.Name, err)
		}
		m := domain.Model{
			Name:           mf.Name,
			RawDir:         mf.RawFolder,
			ClipShape:      mf.ClipShp,
			Destination:    mf.Destination,
			TargetEPSG:     mf.TargetWkt,
			CellSize:       mf.CellSize,
			Resampling:     mf.Resampling,
			Variables:      []string{"rain"},
			Cutoff:         cutoff,
			Location:       loc,
			PartA:          mf.PartA,
			IngestLedger:   mf.ProcessedDatesLog,
			ForecastLedger: mf.ForecastDatesLog,
			RunLog:         mf.ForecastRunsLog,
			LogFile:        mf.LogFile,
			ProjectPath:    mf.ProjectPath,
			StartTime:      mf.StartTime,
			ForecastTime:   mf.ForecastTime,
			EndTime:        mf.EndTime,
			DamID:          mf.DamID,
		}
		for _, fp := range mf.ForecastPaths {
			m.Forecasts = append(m.Forecasts, domain.ForecastArtifact{Path: fp.Path, Name: fp.Name})
		}
		cfg.Models = append(cfg.Models, m)
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
