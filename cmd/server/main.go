package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/iliamunaev/paper-order-pipeline/internal/app"
	"github.com/iliamunaev/paper-order-pipeline/internal/config"
	"github.com/iliamunaev/paper-order-pipeline/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	run := func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), configPath, envFile)
	}

	root := &cobra.Command{
		Use:          "paper-orders",
		Short:        "Paid document order pipeline",
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default: ./.env if present)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server and the order pipeline",
			RunE:  run,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// serve loads the configuration, wires the application and runs the HTTP
// server until SIGINT or SIGTERM.
func serve(ctx context.Context, configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging)
	defer logging.Shutdown()

	a, err := app.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Bool("live_payments", cfg.LivePayments()).Msg("starting")
	return a.Serve(ctx, newServer(cfg.Server, a.Handler))
}

// newServer builds the HTTP server. The write timeout leaves room for
// the per-request timeout so slow handlers still get to respond.
func newServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
