package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/planbridge/planbridge/internal/di"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the planbridge proxy server",
	Long: `Start the proxy server that authenticates tenant access keys and routes
Messages API requests to the plan upstream, falling back to each tenant's
Bedrock credentials when the plan fails.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	// Determine config path. Empty means env-only configuration.
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile()
	}

	container, err := di.NewContainer(configPath)
	if err != nil {
		// Use fallback logger for config load error
		log.Error().Err(err).Str("path", configPath).Msg("failed to initialize")
		return err
	}

	logSvc, err := di.Invoke[*di.LoggerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize logger")
		_ = container.Shutdown()
		return err
	}

	logger := *logSvc.Logger
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	serverSvc, err := di.Invoke[*di.ServerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to build server")
		_ = container.Shutdown()
		return err
	}

	// Graceful shutdown on SIGINT/SIGTERM. Container shutdown stops the
	// HTTP server first (reverse initialization order), draining in-flight
	// streams before the stores and caches close behind them.
	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := container.ShutdownWithContext(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}

		close(done)
	}()

	log.Info().Str("listen", serverSvc.Server.Addr()).Msg("starting planbridge")

	if err := serverSvc.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		_ = container.Shutdown()
		return err
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

// findConfigFile searches default locations for the config file. Returns
// empty when nothing is found, in which case the server runs from
// PLANBRIDGE_* environment variables alone.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigIn(".", home)
}

// findConfigIn checks dir, then home/.config/planbridge/.
func findConfigIn(dir, home string) string {
	p := filepath.Join(dir, defaultConfigFile)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	if home != "" {
		p := filepath.Join(home, ".config", "planbridge", defaultConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
