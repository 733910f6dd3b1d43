package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/civicdata/district-offices/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Move data between the local and authoritative stores",
}

var syncImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Pull units and contact endpoints from upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSyncer(cmd, func(sy *syncer.Syncer) error {
			if _, err := sy.ImportUnits(cmd.Context()); err != nil {
				return err
			}
			_, err := sy.ImportContacts(cmd.Context())
			return err
		})
	},
}

var syncExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push unsynced validated offices upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSyncer(cmd, func(sy *syncer.Syncer) error {
			n, err := sy.ExportOffices(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("exported %d offices\n", n)
			return nil
		})
	},
}

var syncFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Import units and contacts, then export offices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSyncer(cmd, func(sy *syncer.Syncer) error {
			st, err := sy.FullSync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("imported %d units, %d contacts; exported %d offices\n",
				st.ImportedUnits, st.ImportedContacts, st.ExportedOffices)
			return nil
		})
	},
}

var syncRunsLimit int

var syncRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.ListSyncRuns(ctx, syncRunsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSTATUS\tRECORDS\tSTARTED\tERROR")
		for _, r := range runs {
			errMsg := r.ErrorMessage
			if len(errMsg) > 60 {
				errMsg = errMsg[:57] + "..."
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
				r.ID, r.Kind, r.Status, r.RecordsProcessed,
				r.StartedAt.Format("2006-01-02 15:04:05"), errMsg)
		}
		return w.Flush()
	},
}

func withSyncer(cmd *cobra.Command, fn func(*syncer.Syncer) error) error {
	if err := cfg.Validate("sync"); err != nil {
		return err
	}
	ctx := cmd.Context()

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	sy, client, err := openSyncer(ctx, s)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Migrate(ctx); err != nil {
		return err
	}
	return fn(sy)
}

func init() {
	syncRunsCmd.Flags().IntVar(&syncRunsLimit, "limit", 20, "number of runs to show")
	syncCmd.AddCommand(syncImportCmd, syncExportCmd, syncFullCmd, syncRunsCmd)
	rootCmd.AddCommand(syncCmd)
}
