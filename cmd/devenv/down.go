package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the Postgres and Redis compose services",
	Long: `Down stops the compose services started by setup. Data volumes are
kept. The containers driver names its containers <project>-postgres and
<project>-redis; remove those with docker rm -f.`,
	RunE: runDown,
}

func runDown(cmd *cobra.Command, args []string) error {
	if cfg.Bootstrap.Provisioner.Driver != "compose" {
		return errors.New("down is only supported for the compose driver")
	}

	specs, err := app.services(nil)
	if err != nil {
		return fmt.Errorf("resolving services: %w", err)
	}
	if err := app.compose.Stop(cmd.Context(), specs); err != nil {
		return err
	}
	app.ui.Success("services stopped")
	return nil
}
