package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/config"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], clockwork.NewRealClock(), os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the exit code. A failure after the
// configuration loaded is logged through the configured logger; earlier
// failures have no logger yet and are printed as plain text.
func run(ctx context.Context, args []string, clock clockwork.Clock, stderr io.Writer) int {
	root, loaded := newCLI(clock, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if a := loaded(); a != nil {
			a.logger.Error("basinctl failed", "error", err)
		} else {
			fmt.Fprintf(stderr, "basinctl: %v\n", err)
		}
		return 1
	}
	return 0
}

// app is what every command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	runID   string
}

func newRootCmd(clock clockwork.Clock, logOut io.Writer) *cobra.Command {
	root, _ := newCLI(clock, logOut)
	return root
}

// newCLI builds the command tree. The returned func reports the app of the
// command that ran, or nil if it never loaded its configuration.
func newCLI(clock clockwork.Clock, logOut io.Writer) (*cobra.Command, func() *app) {
	var configPath string
	var loaded *app

	root := &cobra.Command{
		Use:   "basinctl",
		Short: "Daily precipitation ingest and forecast runs for river-basin models",
		Long: `basinctl drives the daily forecast cycle of every configured river-basin
model: it imports yesterday's precipitation grid, runs the configured
forecasts, and fetches the supporting raw files and dam telemetry.

Each command is safe to schedule repeatedly. Work already recorded in a
model's ledgers is skipped, and missing raw data is retried until the
model's cutoff time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file (default $PIPELINE_CONFIG or config.yaml)")

	load := func(cmd *cobra.Command) (*app, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		a := &app{
			cfg:     cfg,
			logger:  observability.NewLogger(cfg.LogLevel, cfg.LogFormat, logOut),
			metrics: observability.NewMetrics(),
			clock:   clock,
			runID:   uuid.NewString(),
		}
		a.logger = a.logger.With("command", cmd.Name())
		loaded = a
		return a, nil
	}

	root.AddCommand(
		newStageCmd(load, "ingest", "Import yesterday's precipitation for every model", stagesIngest),
		newStageCmd(load, "forecast", "Run the configured forecasts for every ingested model", stagesForecast),
		newStageCmd(load, "run", "Ingest, then forecast, with one shared date window", stagesAll),
		newDownloadCmd(load),
		newDamCmd(load),
		newServeCmd(load),
	)
	return root, func() *app { return loaded }
}

// finish pushes the invocation's metrics when a Pushgateway is configured.
// A failed push is logged and does not change the exit code.
func (a *app) finish(ctx context.Context, command string) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	if err := observability.Push(ctx, a.cfg.PushgatewayURL, "basinctl", command, a.metrics); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}
}
