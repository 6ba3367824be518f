package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe Postgres and Redis once",
	Long: `Status probes every configured service exactly once, using the
connection settings from the backend .env when it exists. It exits
non-zero if any probe fails.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	results := app.orchestrator.RunDeepHealth(cmd.Context())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	app.ui.Probes(results)

	for name, r := range results {
		if !r.OK {
			return fmt.Errorf("%s is down: %s", name, r.Error)
		}
	}
	return nil
}
