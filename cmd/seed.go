package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/civicdata/district-offices/internal/model"
)

// seedFile is the YAML shape accepted by the seed command. Useful for
// local development without an upstream connection.
type seedFile struct {
	Units            []model.Unit            `yaml:"units"`
	ContactEndpoints []model.ContactEndpoint `yaml:"contact_endpoints"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load units and contact endpoints from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		var seed seedFile
		if err := yaml.Unmarshal(raw, &seed); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, u := range seed.Units {
			if err := s.UpsertUnit(ctx, u); err != nil {
				return err
			}
		}
		for _, c := range seed.ContactEndpoints {
			if err := s.UpsertContactEndpoint(ctx, c); err != nil {
				return err
			}
		}

		zap.L().Info("seed loaded",
			zap.String("file", args[0]),
			zap.Int("units", len(seed.Units)),
			zap.Int("contact_endpoints", len(seed.ContactEndpoints)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
