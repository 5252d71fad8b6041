package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nudgeworks/nudge/internal/store"
)

func init() {
	rootCmd.AddCommand(newResetCmd())
}

func newResetCmd() *cobra.Command {
	var keepEvents bool

	cmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Reset an experiment",
		Long: `Clear a declared winner, return the experiment to the running state,
and delete its recorded events.

This is the only operation that ever discards collected data. Client-side
enrollments are unaffected; returning visitors keep their variant.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				if err := s.Reopen(ctx, id); err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("experiment '%s' not found", id)
					}
					return fmt.Errorf("failed to reset experiment: %w", err)
				}

				if !keepEvents {
					if err := s.DeleteEvents(ctx, id); err != nil {
						return fmt.Errorf("failed to delete events: %w", err)
					}
				}

				fmt.Printf("Reset experiment '%s'.\n", id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&keepEvents, "keep-events", false, "keep recorded events")

	return cmd
}
