package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence/internal/config"
	"github.com/kozaktomas/presence/internal/database"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Profile similarity index commands",
	Long:  `Commands for managing the in-memory HNSW index of profile embeddings.`,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the profile index from PostgreSQL",
	Long: `Rebuild the HNSW profile index from the active profiles, ignoring any
saved copy, and write it to the index path so the server loads it on start.

Examples:
  # Rebuild to HNSW_INDEX_PATH
  presence index rebuild

  # Rebuild to a specific file
  presence index rebuild --path /var/lib/presence/profiles.hnsw`,
	Args: cobra.NoArgs,
	RunE: runIndexRebuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)

	indexRebuildCmd.Flags().String("path", "", "Index file (overrides HNSW_INDEX_PATH)")
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	path := cfg.Database.HNSWIndexPath
	if p := stringFlag(cmd, "path"); p != "" {
		path = p
	}
	if path == "" {
		return errors.New("an index path is required (--path or HNSW_INDEX_PATH)")
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	b.profiles.SetIndexPath(path)
	rebuilder := database.GetIndexRebuilder()
	if rebuilder == nil {
		return errors.New("profile index is not registered")
	}

	start := time.Now()
	if err := rebuilder.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	count := rebuilder.IndexCount()
	fmt.Printf("Profile index rebuilt with %d profiles in %s\n", count, formatDuration(time.Since(start)))
	if count > 0 {
		fmt.Printf("Saved to %s\n", path)
	}
	return nil
}
