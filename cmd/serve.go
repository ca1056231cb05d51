package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence/internal/config"
	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/locale"
	"github.com/kozaktomas/presence/internal/logging"
	"github.com/kozaktomas/presence/internal/metrics"
	"github.com/kozaktomas/presence/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision API server",
	Long: `Start the Presence HTTP server.
The server exposes biometric login and enrollment decisions, profile
administration, the audit trail, health checks and Prometheus metrics.

Examples:
  # Listen on the default port
  presence serve

  # Listen on localhost only
  presence serve --host 127.0.0.1 --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// saveProfileIndex persists the profile index on shutdown so the next start
// can skip the rebuild.
func saveProfileIndex(log logging.Logger) {
	rebuilder := database.GetIndexRebuilder()
	if rebuilder == nil || !rebuilder.IsIndexEnabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := rebuilder.SaveIndex(ctx); err != nil {
		log.Warn("failed to save profile index", logging.Err(err))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if port := intFlag(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := stringFlag(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	messages, err := locale.New(cfg.Messages.Languages, cfg.Biometric.DefaultLanguage)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	if cfg.Database.HNSWEnabled {
		initProfileIndex(ctx, b.profiles, cfg.Database.HNSWIndexPath, log)
	}

	m := metrics.New(true)
	service := newService(cfg, b, b.audit, m, log)

	server := web.NewServer(cfg, web.Dependencies{
		Verifier: service,
		Profiles: b.profiles,
		Audit:    b.audit,
		DB:       b.pool,
		Messages: messages,
		Metrics:  m,
		Logger:   log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutdown requested")
		saveProfileIndex(log)

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", logging.Err(err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
