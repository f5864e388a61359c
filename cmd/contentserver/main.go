package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/zonebnation/ebizimba-content/cmd/flags"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/delivery"
	"github.com/zonebnation/ebizimba-content/httpserver"
	"github.com/zonebnation/ebizimba-content/metrics"
)

func main() {
	app := &cli.App{
		Name:    "contentserver",
		Usage:   "Serve the Ebizimba content API",
		Version: common.Version,
		Flags:   append(append(append([]cli.Flag{}, flags.StackFlags...), flags.ServerFlags...), flags.LogFlags...),
		Action: func(cCtx *cli.Context) error {
			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				return err
			}
			logger := flags.SetupLogger(cCtx, cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.NewContentMetrics(common.PackageName)
			svc, err := delivery.Open(ctx, cfg, m, logger)
			if err != nil {
				logger.Error("Failed to open content service", "err", err)
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					logger.Error("Failed to close content service", "err", err)
				}
			}()

			handler := httpserver.NewHandler(svc, cfg.Server.MaxUploadBytes, logger)
			server, err := httpserver.New(&httpserver.HTTPServerConfig{
				ListenAddr:               cfg.Server.ListenAddr,
				MetricsAddr:              cfg.Server.MetricsAddr,
				EnablePprof:              cfg.Server.EnablePprof,
				Log:                      logger,
				Metrics:                  m,
				DrainDuration:            cfg.Server.DrainDuration.Duration,
				GracefulShutdownDuration: cfg.Server.ShutdownDuration.Duration,
				ReadTimeout:              cfg.Server.ReadTimeout.Duration,
				WriteTimeout:             cfg.Server.WriteTimeout.Duration,
			}, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			background := make(chan struct{})
			go func() {
				defer close(background)
				svc.Run(ctx, cfg.Catalog.SyncInterval.Duration, cfg.Cache.SweepInterval.Duration)
			}()

			server.RunInBackground()
			logger.Info("Server is running, press Ctrl+C to stop")

			<-ctx.Done()
			logger.Info("Shutdown signal received")

			server.Shutdown()
			<-background
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
