package main

import (
	"context"
	"errors"
	"net/http"

	httpadapter "github.com/couchcryptid/basin-forecast-pipeline/internal/adapter/http"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/pipeline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newServeCmd(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run ingest and forecast on an interval and serve health, metrics and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Serve.HTTPAddr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

// serve runs the full stage sequence every configured interval until ctx is
// cancelled. Each cycle gets its own run ID.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	seq, closeSeq, err := a.newSequencer(stagesAll)
	if err != nil {
		return err
	}
	defer closeSeq()

	cycle := func(ctx context.Context) pipeline.Summary {
		runner := pipeline.NewRunner(seq.WithRunID(uuid.NewString()), a.clock, a.logger, cfg.HorizonDays, cfg.LogLevel)
		return runner.Run(ctx, cfg.Models, stagesAll)
	}
	sched := pipeline.NewScheduler(cycle, cfg.Serve.Interval, a.clock, a.logger, a.metrics)
	srv := httpadapter.NewServer(cfg.Serve.HTTPAddr, sched, sched, a.metrics.Gatherer(), a.logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()

	err = sched.Run(ctx)
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Serve.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Error("http server shutdown error", "error", serr)
	}
	a.logger.Info("shutdown complete")
	return err
}
