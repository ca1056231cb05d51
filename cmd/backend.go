package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence/internal/config"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/database/mariadb"
	"github.com/kozaktomas/presence/internal/database/postgres"
	"github.com/kozaktomas/presence/internal/logging"
	"github.com/kozaktomas/presence/internal/metrics"
	"github.com/kozaktomas/presence/internal/verification"
)

// backend holds the storage every command works against.
type backend struct {
	pool     *postgres.Pool
	profiles *postgres.ProfileRepository
	audit    *postgres.AuditRepository
	hr       *mariadb.Pool
}

func (b *backend) Close() {
	if b.hr != nil {
		_ = b.hr.Close()
	}
	if b.pool != nil {
		_ = b.pool.Close()
	}
}

// newLogger builds the process logger, honoring --log-level.
func newLogger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, error) {
	level := cfg.Log.Level
	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		level = override
	}
	log, err := logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}

// openBackend connects to PostgreSQL, applies migrations and registers the
// repositories. The HR directory is connected when configured.
func openBackend(ctx context.Context, cfg *config.Config, log logging.Logger) (*backend, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	pool, applied, err := postgres.Initialize(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	for _, name := range applied {
		log.Info("migration applied", logging.String("file", name))
	}

	b := &backend{
		pool:     pool,
		profiles: postgres.NewProfileRepository(pool, log),
		audit:    postgres.NewAuditRepository(pool),
	}
	database.RegisterPostgresBackend(
		func() database.ProfileWriter { return b.profiles },
		func() database.AuditWriter { return b.audit },
	)
	database.RegisterIndexRebuilder(b.profiles)

	if cfg.HR.DatabaseURL != "" {
		hr, err := mariadb.NewPool(cfg.HR.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to connect to HR database: %w", err)
		}
		b.hr = hr
		log.Info("HR directory enabled")
	}
	return b, nil
}

// initProfileIndex builds or loads the HNSW profile index. Failure leaves
// similarity queries on PostgreSQL.
func initProfileIndex(ctx context.Context, profiles *postgres.ProfileRepository, indexPath string, log logging.Logger) {
	if err := profiles.EnableIndex(ctx, indexPath); err != nil {
		log.Warn("profile index unavailable, using PostgreSQL for similarity queries", logging.Err(err))
		return
	}
	log.Info("profile index ready",
		logging.Int("count", profiles.IndexCount()),
		logging.String("path", indexPath))
}

// newService builds the verification service over the backend. A nil audit
// writer leaves decisions unrecorded.
func newService(cfg *config.Config, b *backend, audit database.AuditWriter, m *metrics.Metrics, log logging.Logger) *verification.Service {
	opts := []verification.Option{
		verification.WithMetrics(m),
		verification.WithLogger(log),
		verification.WithMaxPopulation(cfg.Biometric.MaxPopulation),
	}
	if audit != nil {
		opts = append(opts, verification.WithAudit(audit))
	}
	if b.hr != nil {
		opts = append(opts, verification.WithDirectory(mariadb.NewDirectory(b.hr)))
	}
	return verification.NewService(b.profiles, opts...)
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// formatDuration formats a duration as a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
