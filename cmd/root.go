package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicdata/district-offices/internal/config"
	"github.com/civicdata/district-offices/internal/store"
	"github.com/civicdata/district-offices/internal/syncer"
	"github.com/civicdata/district-offices/internal/upstream"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "district-offices",
	Short: "District office extraction and validation pipeline",
	Long:  "Scrapes contact pages, extracts district offices via Claude, queues them for human validation, and syncs validated records with the authoritative store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore opens and migrates the local store.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	s, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openSyncer connects to upstream and wraps it with the local store.
func openSyncer(ctx context.Context, s store.Store) (*syncer.Syncer, *upstream.PostgresClient, error) {
	client, err := upstream.NewPostgres(ctx, cfg.Upstream.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return syncer.New(s, client, cfg.Sync.ExportBatchSize), client, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
