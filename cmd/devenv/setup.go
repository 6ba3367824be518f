package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"studysprint/devenv/internal/orchestrator"

	"github.com/spf13/cobra"
)

var (
	skipInstall bool
	skipSmoke   bool
)

var setupCmd = &cobra.Command{
	Use:     "setup",
	Aliases: []string{"bootstrap"},
	Short:   "Bootstrap the backend development environment and exit",
	Long: `Setup runs every bootstrap stage in order: environment file, Python
dependencies, Postgres and Redis, readiness polling, schema migration and
the application smoke test.

The command prints a JSON result to stdout and a per-phase summary to
stderr. It exits 0 only when every stage, including the smoke test,
succeeded.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().BoolVar(&skipInstall, "skip-install", false, "skip the dependency installation stage")
	setupCmd.Flags().BoolVar(&skipSmoke, "skip-smoke", false, "skip the application smoke test")
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.Bootstrap.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Bootstrap.Timeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "starting bootstrap", "work_dir", cfg.Bootstrap.WorkDir)

	result, err := app.orchestrator.RunBootstrap(ctx)
	if result != nil {
		printBootstrapResult(result)
		app.ui.Bootstrap(result)
	}
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	slog.InfoContext(ctx, "bootstrap completed successfully")
	return nil
}

func printBootstrapResult(result *orchestrator.BootstrapResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	result.Lock()
	defer result.Unlock()
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stdout, `{"status":%q}`+"\n", result.Status)
	}
}
