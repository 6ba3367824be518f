package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"studysprint/devenv/internal/clients"
	"studysprint/devenv/internal/orchestrator"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the backend test suite with coverage",
	Long: `Test creates the test database on the provisioned Postgres server
when it is missing, then runs pytest from the virtual environment against
the configured test module, reporting coverage for the configured package
and failing below tests.fail_under percent. The exit status is pytest's own.`,
	RunE: runTests,
}

func runTests(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t := cfg.Tests

	if t.Database != "" {
		specs, err := app.services(nil)
		if err != nil {
			return fmt.Errorf("resolving services: %w", err)
		}
		var handles []orchestrator.ServiceHandle
		for _, s := range specs {
			handles = append(handles, orchestrator.NewServiceHandle(s, s.Service, nil))
		}
		db, ok := orchestrator.FindHandle(handles, orchestrator.KindPostgres)
		if !ok {
			return errors.New("no postgres service configured for the test database")
		}
		created, err := clients.NewDatabases(db, cfg.Bootstrap.Postgres.SSLMode).Ensure(ctx, t.Database)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "test database ready", "database", t.Database, "created", created)
	}

	code, err := app.installer.RunTests(ctx, t, os.Stdout, os.Stderr)
	if code != 0 {
		return &exitError{code: code, err: err}
	}
	if err != nil {
		return fmt.Errorf("running tests: %w", err)
	}
	return nil
}
