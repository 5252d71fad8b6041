package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nudgeworks/nudge/internal/engine"
	"github.com/nudgeworks/nudge/internal/events"
	"github.com/nudgeworks/nudge/internal/store"
)

func init() {
	rootCmd.AddCommand(newSimulateCmd())
}

func newSimulateCmd() *cobra.Command {
	var (
		visitors int
		seed     int64
		rates    string
		record   bool
	)

	cmd := &cobra.Command{
		Use:   "simulate <id>",
		Short: "Run synthetic visitors through an experiment",
		Long: `Run synthetic visitors through an experiment and report the observed
variant distribution against the configured weights.

Each visitor gets an isolated in-memory session, so sticky bucketing and
impression counting behave exactly as they do in a real storefront. With
--rate, visitors convert with the given per-variant probability; combined
with --record the enrollments and conversions are written to the event log,
which makes 'nudge results' usable without live traffic.

Examples:
  nudge simulate hero-cta --visitors 10000 --seed 42
  nudge simulate hero-cta --rate "control=0.10,treatment=0.16" --record`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			rateByVariant, err := parseRates(rates)
			if err != nil {
				return err
			}

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				rec, err := s.GetExperiment(ctx, id)
				if err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("experiment '%s' not found", id)
					}
					return fmt.Errorf("failed to get experiment: %w", err)
				}
				def := rec.Experiment
				if def.TotalWeight() <= 0 {
					return fmt.Errorf("experiment '%s' has zero total weight; nothing to draw", id)
				}

				rng := engine.NewSeededRand(seed)
				sink := &events.Capture{}
				enrolled := make(map[string]int, len(def.Variants))
				converted := make(map[string]int, len(def.Variants))

				for i := 0; i < visitors; i++ {
					eng := engine.New(engine.Options{
						Store: store.NewMemory(),
						Rand:  rng,
						Sink:  sink,
					})
					eng.RegisterExperiments([]engine.Experiment{def})

					v := eng.GetVariant(id)
					if v == nil {
						return fmt.Errorf("experiment '%s' is not active; enable it or adjust its window", id)
					}
					enrolled[v.ID]++

					didConvert := false
					if rate, ok := rateByVariant[v.ID]; ok && rng.Float64() < rate {
						didConvert = true
						converted[v.ID]++
						if def.Goal != nil {
							eng.RecordConversion(id, def.Goal.EventName)
						}
					}

					if record {
						visitor := uuid.NewString()
						if err := s.RecordEvent(ctx, id, v.ID, store.EventEnroll, visitor, 0); err != nil {
							return fmt.Errorf("failed to record event: %w", err)
						}
						if didConvert {
							if err := s.RecordEvent(ctx, id, v.ID, store.EventConvert, visitor, 0); err != nil {
								return fmt.Errorf("failed to record event: %w", err)
							}
						}
					}
				}

				printSimulation(cmd, def, visitors, enrolled, converted)
				fmt.Printf("\nEvent stream: %d %s, %d %s\n",
					len(sink.Named(engine.EventEnrollment)), engine.EventEnrollment,
					len(sink.Named(engine.EventConversion)), engine.EventConversion)
				if record {
					fmt.Printf("\nRecorded %d visitors. Inspect with: nudge results %s\n", visitors, id)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&visitors, "visitors", 10000, "number of synthetic visitors")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().StringVar(&rates, "rate", "", "per-variant conversion probabilities, id=rate pairs")
	cmd.Flags().BoolVar(&record, "record", false, "write events to the database")

	return cmd
}

func parseRates(spec string) (map[string]float64, error) {
	rates := make(map[string]float64)
	if spec == "" {
		return rates, nil
	}
	for _, part := range strings.Split(spec, ",") {
		id, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return nil, fmt.Errorf("invalid rate %q: want id=rate", part)
		}
		rate, err := strconv.ParseFloat(val, 64)
		if err != nil || rate < 0 || rate > 1 {
			return nil, fmt.Errorf("invalid rate %q: want a number in [0,1]", part)
		}
		rates[id] = rate
	}
	return rates, nil
}

func printSimulation(cmd *cobra.Command, def engine.Experiment, visitors int, enrolled, converted map[string]int) {
	total := def.TotalWeight()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tWEIGHT\tEXPECTED\tOBSERVED\tCONVERSIONS")
	for _, v := range def.Variants {
		expected := v.Weight / total
		observed := float64(enrolled[v.ID]) / float64(visitors)
		fmt.Fprintf(w, "%s\t%.0f\t%.1f%%\t%.1f%%\t%d\n",
			v.ID, v.Weight, expected*100, observed*100, converted[v.ID])
	}
	w.Flush()
}
