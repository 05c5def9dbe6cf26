package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/app"
	"github.com/mohammad-safakhou/proposer/internal/events"
	"github.com/mohammad-safakhou/proposer/internal/runs"
	"github.com/mohammad-safakhou/proposer/internal/runtime"
	srv "github.com/mohammad-safakhou/proposer/internal/server"
)

func serveCMD(load func() (*config.Config, error)) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			telemetry, _, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceVersion: "dev"})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = telemetry.Shutdown(shutdownCtx)
			}()

			a, err := app.Build(ctx, cfg, app.Options{
				StepLogger: log.New(os.Stdout, "[STEP] ", log.LstdFlags),
				Verbose:    cfg.General.Debug,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			var runOpts []runs.Option
			if a.Stream != nil {
				runOpts = append(runOpts, runs.WithArchive(a.Stream))
			}
			manager := runs.NewManager(a.Orchestrator, events.NewBroker(64), cfg.Runs, nil, runOpts...)
			manager.StartJanitor(ctx, time.Minute)

			deps := srv.Deps{Config: cfg, Runs: manager, Telemetry: telemetry}
			if a.Stream != nil {
				deps.Archive = a.Stream
			}
			e, err := srv.New(deps)
			if err != nil {
				return err
			}
			serveErr := srv.Serve(ctx, e, cfg.Server.Address)

			shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
			defer stop()
			if err := manager.Shutdown(shutdownCtx); err != nil {
				log.Printf("runs still active at shutdown: %v", err)
			}
			return serveErr
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}
