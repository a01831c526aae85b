package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"v2v/app/client/backend"
	"v2v/app/client/speechkit"
	"v2v/app/config"
	"v2v/app/server"
	"v2v/app/service/assistant"
	"v2v/app/service/console"
	"v2v/app/service/device"
	"v2v/app/service/history"
	"v2v/app/service/orchestrator"
	"v2v/app/service/queue"
	"v2v/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "v2v",
		Short:        "Voice chat assistant",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "client",
			Short: "Talk to the chat service by voice",
			RunE: func(*cobra.Command, []string) error {
				return runClient(configPath)
			},
		},
		&cobra.Command{
			Use:   "server",
			Short: "Serve the chat API",
			RunE: func(*cobra.Command, []string) error {
				return runServer(configPath)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(configPath string) (*do.Injector, context.Context, context.CancelFunc) {
	di := do.New()

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	return di, appCtx, cancel
}

func runClient(configPath string) error {
	di, appCtx, cancel := setup(configPath)
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")
	defer cancel()

	do.Provide(di, backend.NewClient)
	do.Provide(di, speechkit.NewClient)
	do.Provide(di, device.Probe)
	do.Provide(di, device.NewOutputController)
	do.Provide(di, device.NewCaptureController)
	do.Provide(di, queue.New)
	do.Provide(di, orchestrator.New)
	do.Provide(di, console.New)

	slog.Info("Client started")

	go do.MustInvoke[*orchestrator.Service](di).Run(appCtx)

	do.MustInvoke[*console.Service](di).Run(appCtx)

	return nil
}

func runServer(configPath string) error {
	di, appCtx, cancel := setup(configPath)
	defer di.Shutdown()
	defer cancel()

	do.Provide(di, history.New)
	do.Provide(di, assistant.New)
	do.Provide(di, server.New)

	slog.Info("Server started")

	if err := do.MustInvoke[*server.Server](di).Run(appCtx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
