package main

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/adapter/engine"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/adapter/ftp"
	kafkaadapter "github.com/couchcryptid/basin-forecast-pipeline/internal/adapter/kafka"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/adapter/telemetry"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/download"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/ledger"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/locator"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/pipeline"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/report"
	"github.com/spf13/cobra"
)

type loader func(cmd *cobra.Command) (*app, error)

var (
	stagesIngest   = []domain.Stage{domain.StageIngest}
	stagesForecast = []domain.Stage{domain.StageForecast}
	stagesAll      = domain.Stages
)

func newStageCmd(load loader, use, short string, stages []domain.Stage) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.finish(cmd.Context(), use)
			return a.runStages(cmd, stages)
		},
	}
}

// runStages runs the stages for every model. Per-model failures are logged
// and counted but do not fail the command; only problems that stop every
// model from making progress do.
func (a *app) runStages(cmd *cobra.Command, stages []domain.Stage) error {
	ctx := cmd.Context()

	seq, closeSeq, err := a.newSequencer(stages)
	if err != nil {
		return err
	}
	defer closeSeq()

	summary := pipeline.NewRunner(seq, a.clock, a.logger, a.cfg.HorizonDays, a.cfg.LogLevel).Run(ctx, a.cfg.Models, stages)
	for _, r := range summary.Results {
		fmt.Fprintln(cmd.OutOrStdout(), r.String())
	}
	return ctx.Err()
}

// newSequencer wires the engine, ledgers and completion events. The returned
// func releases the event publisher.
func (a *app) newSequencer(stages []domain.Stage) (*pipeline.Sequencer, func(), error) {
	cfg := a.cfg

	eng := engine.New(engine.Config{
		ImportCommand:  cfg.Engine.ImportCommand,
		ComputeCommand: cfg.Engine.ComputeCommand,
		ScriptDir:      cfg.Engine.ScriptDir,
		Timeout:        cfg.Engine.Timeout,
	}, a.logger, a.metrics)
	if err := eng.Check(enginesNeeded(cfg.Models, stages)...); err != nil {
		return nil, nil, err
	}

	var notifier pipeline.Notifier = pipeline.NopNotifier{}
	release := func() {}
	if cfg.Kafka.Enabled() {
		pub := kafkaadapter.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, a.logger)
		notifier = pub
		release = func() {
			if err := pub.Close(); err != nil {
				a.logger.Warn("kafka publisher close", "error", err)
			}
		}
	}

	seq := pipeline.NewSequencer(pipeline.Dependencies{
		Locator:  locator.New(locator.DefaultNaming(), a.logger),
		Ledger:   ledger.NewStore(cfg.Models),
		Engine:   eng,
		Notifier: notifier,
		Clock:    a.clock,
		Logger:   a.logger,
		Metrics:  a.metrics,
		RunID:    a.runID,
	})
	return seq, release, nil
}

// enginesNeeded lists the stages whose engine launcher will actually be used.
func enginesNeeded(models []domain.Model, stages []domain.Stage) []domain.Stage {
	var out []domain.Stage
	for _, s := range stages {
		if s != domain.StageForecast {
			out = append(out, s)
			continue
		}
		for _, m := range models {
			if m.HasForecast() {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func newDownloadCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Fetch the last days' raw precipitation files from the FTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.finish(cmd.Context(), "download")

			cfg := a.cfg.FTP
			if cfg.Server == "" {
				return errors.New("PIPELINE_FTP_SERVER is required for download")
			}
			client := ftp.New(ftp.Config{
				Server:    cfg.Server,
				Username:  cfg.Username,
				Password:  cfg.Password,
				RemoteDir: cfg.RemoteDir,
				Timeout:   cfg.Timeout,
			}, a.logger)
			d := download.New(client, download.Config{
				LocalDir:     cfg.LocalDir,
				LedgerPath:   cfg.LedgerPath,
				LookbackDays: cfg.LookbackDays,
				Naming:       locator.DefaultNaming(),
				Location:     a.cfg.Location,
			}, a.clock, a.logger, a.metrics)

			res, err := d.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("download: %w", err)
			}
			for _, name := range res.Downloaded {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newDamCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "dam",
		Short: "Write today's dam telemetry report for every model with a dam",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.finish(cmd.Context(), "dam")

			format, err := report.ParseFormat(a.cfg.ReportFormat)
			if err != nil {
				return err
			}
			tc := a.cfg.Telemetry
			client := telemetry.NewClient(telemetry.Config{
				BaseURL:           tc.BaseURL,
				Username:          tc.Username,
				Password:          tc.Password,
				Timeout:           tc.Timeout,
				RequestsPerSecond: tc.RequestsPerSecond,
				Location:          a.cfg.Location,
			}, a.clock, a.logger, a.metrics)
			if err := client.Login(cmd.Context()); err != nil {
				return err
			}

			r := report.NewDamReporter(client, a.cfg.OutputDir, format, telemetry.Columns, a.logger)
			written, failed := r.Run(cmd.Context(), a.cfg.Models)
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			if len(failed) > 0 {
				a.logger.Warn("some dam reports failed", "failed", len(failed), "written", len(written))
			}
			return nil
		},
	}
}
