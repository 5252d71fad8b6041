package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nudgeworks/nudge/internal/config"
	"github.com/nudgeworks/nudge/internal/server"
	"github.com/nudgeworks/nudge/internal/store"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the beacon collection server",
	Long: `Start the beacon collection server.

The server provides:
  - Beacon endpoint at /b for enrollment and conversion events
  - Active experiment definitions at /api/experiments
  - Aggregated results at /dashboard/api/results (token protected)
  - Prometheus metrics at /metrics

Configuration comes from NUDGE_* environment variables; flags override.

Example:
  nudge serve
  nudge serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides NUDGE_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port > 0 {
		cfg.Port = port
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = dbPath
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tokenFile := cfg.TokenFile
	if tokenFile != "" && !filepath.IsAbs(tokenFile) {
		tokenFile = filepath.Join(filepath.Dir(cfg.DBPath), tokenFile)
	}

	srv := server.New(s, cfg.Port, tokenFile, logger)

	fmt.Println()
	fmt.Printf("nudge running on http://localhost:%d\n", cfg.Port)
	fmt.Printf("Results: http://localhost:%d/dashboard/api/results?token=%s\n", cfg.Port, srv.Token())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	return srv.Start()
}
