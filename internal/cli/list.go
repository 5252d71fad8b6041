package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nudgeworks/nudge/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all experiments with their state and aggregated traffic.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		records, err := s.ListExperiments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(records) == 0 {
			fmt.Println("No experiments yet.")
			fmt.Println()
			fmt.Println("Create one with:")
			fmt.Println("  nudge create hero-cta --variants \"control:50,treatment:50\" --control control")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tVARIANTS\tIMPRESSIONS\tCONVERSIONS\tWINNER\tCREATED")

		for _, rec := range records {
			counts, err := s.VariantCounts(ctx, rec.Experiment.ID)
			if err != nil {
				return fmt.Errorf("failed to get counts for %s: %w", rec.Experiment.ID, err)
			}

			impressions, conversions := 0, 0
			for _, c := range counts {
				impressions += c.Impressions
				conversions += c.Conversions
			}

			winner := rec.WinnerVariantID
			if winner == "" {
				winner = "-"
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				rec.Experiment.ID,
				strings.ToUpper(string(rec.State)),
				len(rec.Experiment.Variants),
				impressions,
				conversions,
				winner,
				rec.CreatedAt.Format("2006-01-02"),
			)
		}

		w.Flush()
		return nil
	})
}
