package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/civicdata/district-offices/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize local store contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		st, err := s.Stats(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "units\t%d\n", st.TotalUnits)
		fmt.Fprintf(w, "units awaiting extraction\t%d\n", st.UnitsWithoutOffices)
		for _, status := range []model.ExtractionStatus{
			model.ExtractionPending, model.ExtractionProcessing,
			model.ExtractionValidated, model.ExtractionRejected, model.ExtractionFailed,
		} {
			fmt.Fprintf(w, "extractions %s\t%d\n", status, st.ExtractionsByStatus[status])
		}
		fmt.Fprintf(w, "validated offices\t%d\n", st.ValidatedOffices)
		fmt.Fprintf(w, "offices awaiting export\t%d\n", st.UnsyncedOffices)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
