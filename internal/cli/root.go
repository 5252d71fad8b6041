package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "nudge",
	Short: "nudge - self-hosted experimentation and behavioral targeting for storefronts",
	Long: `nudge runs weighted A/B tests and behavior-targeted CTAs for a storefront.
Single Go binary, embedded SQLite, no external services.

Running without a subcommand starts the beacon collection server
(same as 'nudge serve').`,
	RunE: runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("NUDGE_DB_PATH", "./nudge.db"), "database path")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
