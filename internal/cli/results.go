package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nudgeworks/nudge/internal/stats"
	"github.com/nudgeworks/nudge/internal/store"
)

func init() {
	rootCmd.AddCommand(newResultsCmd())
}

func newResultsCmd() *cobra.Command {
	var wilson bool

	cmd := &cobra.Command{
		Use:   "results <id>",
		Short: "Show detailed results for an experiment",
		Long: `Show conversion rates, confidence intervals, and chi-square significance
against the control variant.

The interval defaults to the normal approximation; --wilson switches to the
Wilson score interval, which behaves better on small samples.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				rec, err := s.GetExperiment(ctx, id)
				if err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("experiment '%s' not found", id)
					}
					return fmt.Errorf("failed to get experiment: %w", err)
				}

				counts, err := s.VariantCounts(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get counts: %w", err)
				}

				variantCounts := make([]stats.VariantCount, len(rec.Experiment.Variants))
				for i, v := range rec.Experiment.Variants {
					c := counts[v.ID]
					variantCounts[i] = stats.VariantCount{
						ID:          v.ID,
						IsControl:   v.IsControl,
						Impressions: c.Impressions,
						Conversions: c.Conversions,
					}
				}
				results := stats.Analyze(variantCounts)

				printResults(rec, results, wilson)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&wilson, "wilson", false, "use the Wilson score interval")

	return cmd
}

func printResults(rec *store.Record, results *stats.Results, wilson bool) {
	fmt.Printf("EXPERIMENT: %s\n", rec.Experiment.ID)
	fmt.Printf("STATE: %s\n", strings.ToUpper(string(rec.State)))
	if rec.Experiment.Goal != nil {
		fmt.Printf("GOAL: %s\n", rec.Experiment.Goal.EventName)
	}
	fmt.Printf("CREATED: %s\n", rec.CreatedAt.Format("2006-01-02"))
	fmt.Println()

	fmt.Println("VARIANT           IMPRESSIONS  CONVERSIONS  RATE     95% CI             CHI^2")
	fmt.Println(strings.Repeat("─", 78))

	for _, v := range results.Variants {
		lower, upper := v.CILower, v.CIUpper
		if wilson {
			lower, upper = stats.WilsonInterval(v.Conversions, v.Impressions)
		}
		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", lower*100, upper*100)
		if v.Impressions == 0 {
			ciStr = "N/A"
		}

		marker := ""
		if v.IsControl {
			marker = " (control)"
		}
		if v.Significant {
			marker += " ← SIGNIFICANT"
		}

		chiStr := "-"
		if !v.IsControl {
			chiStr = fmt.Sprintf("%.2f", v.ChiSquare)
		}

		name := v.ID
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Printf("%-16s  %-11d  %-11d  %-7s  %-17s  %s%s\n",
			name,
			v.Impressions,
			v.Conversions,
			formatPercent(v.Rate),
			ciStr,
			chiStr,
			marker,
		)
	}

	fmt.Println()

	switch {
	case rec.WinnerVariantID != "":
		fmt.Printf("Winner declared: \"%s\"\n", rec.WinnerVariantID)
	case results.WinningVariantID != "":
		fmt.Printf("Statistical winner: \"%s\" (chi-square > %.2f vs control)\n",
			results.WinningVariantID, stats.SignificanceThreshold)
		fmt.Println("Declare it with: nudge winner " + rec.Experiment.ID + " --variant " + results.WinningVariantID)
	case !hasControl(results):
		fmt.Println("No control variant designated; significance is not computed.")
	default:
		fmt.Println("No variant is statistically significant yet.")
	}
}

func hasControl(results *stats.Results) bool {
	for _, v := range results.Variants {
		if v.IsControl {
			return true
		}
	}
	return false
}
