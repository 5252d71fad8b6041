package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nudgeworks/nudge/internal/store"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var variantID string

	cmd := &cobra.Command{
		Use:   "winner <id>",
		Short: "Declare a winner for an experiment",
		Long: `Declare a winning variant and complete the experiment.

Completed experiments are no longer served to clients; the storefront should
ship the winning variant as the default.

Example:
  nudge winner hero-cta --variant treatment`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				rec, err := s.GetExperiment(ctx, id)
				if err != nil {
					return fmt.Errorf("experiment not found: %s", id)
				}

				if rec.State != store.StateRunning {
					return fmt.Errorf("experiment is not running (current state: %s)", rec.State)
				}

				found := false
				for _, v := range rec.Experiment.Variants {
					if v.ID == variantID {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("unknown variant %q (experiment has: %s)", variantID, variantList(rec))
				}

				if err := s.SetWinner(ctx, id, variantID); err != nil {
					return fmt.Errorf("failed to set winner: %w", err)
				}

				fmt.Printf("Declared winner for experiment '%s': \"%s\"\n", id, variantID)
				fmt.Println("Experiment has been marked as completed.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantID, "variant", "v", "", "winning variant id (required)")
	cmd.MarkFlagRequired("variant")

	return cmd
}

func variantList(rec *store.Record) string {
	out := ""
	for i, v := range rec.Experiment.Variants {
		if i > 0 {
			out += ", "
		}
		out += v.ID
	}
	return out
}
