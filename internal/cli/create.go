package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/nudgeworks/nudge/internal/engine"
	"github.com/nudgeworks/nudge/internal/store"
	"github.com/nudgeworks/nudge/internal/targeting"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants    string
		control     string
		goal        string
		goalValue   float64
		start       string
		end         string
		pages       string
		userType    string
		minTime     int
		minScroll   float64
		requireCart bool
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a new experiment",
		Long: `Create a new experiment with weighted variants.

Variants are given as comma-separated id:weight pairs; weights are relative
shares and need not sum to 100. Omitted weights split the traffic evenly.

Examples:
  nudge create hero-cta --variants "control:50,treatment:50" --control control
  nudge create urgency --variants "none,timer,stock" --goal checkout_completed
  nudge create exit-offer --variants "a:70,b:30" --pages product,cart --min-scroll 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			if variants == "" {
				var err error
				variants, control, goal, err = promptDefinition()
				if err != nil {
					return err
				}
			}

			parsed, err := parseVariants(variants, control)
			if err != nil {
				return err
			}
			if len(parsed) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"control:50,treatment:50\"")
			}

			def := engine.Experiment{
				ID:       id,
				Variants: parsed,
				Enabled:  true,
			}

			if def.StartDate, err = parseDate(start, time.Now()); err != nil {
				return err
			}
			if def.EndDate, err = parseDate(end, time.Time{}); err != nil {
				return err
			}
			if goal != "" {
				def.Goal = &engine.ConversionGoal{EventName: goal, DefaultValue: goalValue}
			}
			if cond := buildTargeting(pages, userType, minTime, minScroll, requireCart); cond != nil {
				def.Targeting = cond
			}

			return withStore(func(s *store.SQLiteStore) error {
				if err := s.SaveExperiment(context.Background(), def); err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created experiment '%s' with %d variants:\n", def.ID, len(def.Variants))
				for _, v := range def.Variants {
					marker := ""
					if v.IsControl {
						marker = " (control)"
					}
					fmt.Printf("  %s: weight %.0f%s\n", v.ID, v.Weight, marker)
				}
				if def.Goal != nil {
					fmt.Printf("  Goal: %s\n", def.Goal.EventName)
				}
				if def.Targeting != nil {
					fmt.Printf("  Targeting: %s\n", describeTargeting(*def.Targeting))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated id:weight pairs")
	cmd.Flags().StringVar(&control, "control", "", "variant id to designate as control")
	cmd.Flags().StringVar(&goal, "goal", "", "conversion goal event name (optional)")
	cmd.Flags().Float64Var(&goalValue, "goal-value", 0, "default conversion value (optional)")
	cmd.Flags().StringVar(&start, "start", "", "activity window start, YYYY-MM-DD (default now)")
	cmd.Flags().StringVar(&end, "end", "", "activity window end, YYYY-MM-DD (default open)")
	cmd.Flags().StringVar(&pages, "pages", "", "comma-separated page types to target (optional)")
	cmd.Flags().StringVar(&userType, "user-type", "", "target user type: new, returning or any (optional)")
	cmd.Flags().IntVar(&minTime, "min-time", 0, "minimum time on page in seconds (optional)")
	cmd.Flags().Float64Var(&minScroll, "min-scroll", 0, "minimum scroll depth percent (optional)")
	cmd.Flags().BoolVar(&requireCart, "require-cart", false, "require a non-empty cart (optional)")

	return cmd
}

func parseVariants(spec, control string) ([]engine.Variant, error) {
	parts := strings.Split(spec, ",")
	variants := make([]engine.Variant, 0, len(parts))
	unweighted := 0

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		v := engine.Variant{ID: part}
		if id, weight, found := strings.Cut(part, ":"); found {
			w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
			if err != nil || w < 0 || w > 100 {
				return nil, fmt.Errorf("invalid weight in %q: want a number in [0,100]", part)
			}
			v.ID = strings.TrimSpace(id)
			v.Weight = w
		} else {
			unweighted++
		}
		v.IsControl = v.ID == control
		variants = append(variants, v)
	}

	// Omitted weights share the traffic evenly.
	if unweighted == len(variants) && len(variants) > 0 {
		even := 100.0 / float64(len(variants))
		for i := range variants {
			variants[i].Weight = even
		}
	} else if unweighted > 0 {
		return nil, fmt.Errorf("either weight every variant or none")
	}

	if control != "" && !hasVariant(variants, control) {
		return nil, fmt.Errorf("control variant %q is not in the variant list", control)
	}
	return variants, nil
}

func hasVariant(variants []engine.Variant, id string) bool {
	for _, v := range variants {
		if v.ID == id {
			return true
		}
	}
	return false
}

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func buildTargeting(pages, userType string, minTime int, minScroll float64, requireCart bool) *targeting.Condition {
	cond := targeting.Condition{
		UserType:              userType,
		MinTimeOnPageSeconds:  minTime,
		MinScrollDepthPercent: minScroll,
		CartNotEmpty:          requireCart,
	}
	if pages != "" {
		for _, p := range strings.Split(pages, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cond.PageTypes = append(cond.PageTypes, p)
			}
		}
	}
	if len(cond.PageTypes) == 0 && cond.UserType == "" && cond.MinTimeOnPageSeconds == 0 &&
		cond.MinScrollDepthPercent == 0 && !cond.CartNotEmpty {
		return nil
	}
	return &cond
}

func describeTargeting(cond targeting.Condition) string {
	var parts []string
	if len(cond.PageTypes) > 0 {
		parts = append(parts, "pages "+strings.Join(cond.PageTypes, "/"))
	}
	if cond.UserType != "" {
		parts = append(parts, cond.UserType+" users")
	}
	if cond.MinTimeOnPageSeconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds+ on page", cond.MinTimeOnPageSeconds))
	}
	if cond.MinScrollDepthPercent > 0 {
		parts = append(parts, fmt.Sprintf("%.0f%%+ scrolled", cond.MinScrollDepthPercent))
	}
	if cond.CartNotEmpty {
		parts = append(parts, "cart not empty")
	}
	return strings.Join(parts, ", ")
}

func promptDefinition() (variants, control, goal string, err error) {
	variantPrompt := promptui.Prompt{
		Label:   "Variants (comma-separated id:weight pairs)",
		Default: "control:50,treatment:50",
	}
	if variants, err = variantPrompt.Run(); err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", "", "", err
	}

	controlPrompt := promptui.Prompt{
		Label:   "Control variant id (empty for none)",
		Default: "control",
	}
	if control, err = controlPrompt.Run(); err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", "", "", err
	}

	goalPrompt := promptui.Prompt{
		Label: "Conversion goal event (empty for none)",
	}
	if goal, err = goalPrompt.Run(); err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", "", "", err
	}

	return variants, control, goal, nil
}
