package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicdata/district-offices/internal/extractor"
	"github.com/civicdata/district-offices/internal/pipeline"
	"github.com/civicdata/district-offices/internal/resilience"
	"github.com/civicdata/district-offices/internal/scrape"
	"github.com/civicdata/district-offices/pkg/anthropic"
)

var scrapeUnitID string

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch contact pages and extract office candidates",
	Long:  "For every current unit without validated offices: fetch its contact page, clean it, run the extractor, and store candidates awaiting review.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("scrape"); err != nil {
			return err
		}
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		fetcher := scrape.NewHTTPFetcher(scrape.Options{
			Timeout:        time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
			UserAgent:      cfg.Scrape.UserAgent,
			RequestsPerSec: cfg.Scrape.RequestsPerSec,
			MaxBodyBytes:   cfg.Scrape.MaxDocumentBytes,
			Retry:          resilience.FromSettings(cfg.Scrape.MaxAttempts, 0, 0),
		})
		claude := extractor.NewClaude(
			anthropic.NewClient(cfg.Anthropic.Key),
			cfg.Anthropic.Model,
			int64(cfg.Anthropic.MaxTokens),
			resilience.FromSettings(cfg.Anthropic.MaxAttempts, 0, 0),
		)
		producer := pipeline.NewProducer(s, fetcher, claude, cfg.Pipeline.Concurrency)

		if scrapeUnitID != "" {
			unit, err := s.GetUnit(ctx, scrapeUnitID)
			if err != nil {
				return err
			}
			attempted, err := producer.ProcessUnit(ctx, *unit)
			if err != nil {
				return err
			}
			if !attempted {
				return eris.Errorf("unit %s has no known contact page", scrapeUnitID)
			}
			return nil
		}

		stats, err := producer.Run(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("scrape complete",
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Int("skipped", stats.Skipped))
		return nil
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeUnitID, "unit", "", "process a single unit by ID")
	rootCmd.AddCommand(scrapeCmd)
}
