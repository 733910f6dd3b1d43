package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicdata/district-offices/internal/review"
)

var validateDir string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Review extracted offices one at a time",
	Long:  "Walks pending extractions in priority order, opening each review document in the browser. Accept/Reject links post back to a local server; accepted offices are pushed upstream when an upstream store is configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("validate"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		// Upstream is optional here; without it accepted offices wait
		// for the next sync export.
		var exporter review.Exporter
		if cfg.Upstream.DatabaseURL != "" {
			sync, client, err := openSyncer(ctx, s)
			if err != nil {
				zap.L().Warn("upstream unreachable, deferring export to next sync", zap.Error(err))
			} else {
				defer client.Close()
				exporter = sync
			}
		}

		callbackBase := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		orch := review.NewOrchestrator(s, exporter,
			&review.BrowserPresenter{Dir: validateDir},
			callbackBase, cfg.Pipeline.MaxPending)
		srv := review.NewServer(orch, cfg.Server.Port)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(gctx) })
		g.Go(func() error {
			defer stop() // session over, shut the server down
			return orch.Run(gctx)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateDir, "review-dir", "", "directory for rendered review documents (default: temp dir)")
	rootCmd.AddCommand(validateCmd)
}
