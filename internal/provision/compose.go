// Package provision starts the backing services (Postgres, Redis) the
// backend needs. Drivers return as soon as the services are launched;
// readiness is established separately by polling.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"studysprint/devenv/internal/config"
	"studysprint/devenv/internal/orchestrator"
	"studysprint/devenv/internal/process"
)

// Compose provisions services with `docker compose up -d`. Containers and
// volumes are reused by compose across runs.
type Compose struct {
	fs      afero.Fs
	run     process.Runner
	workDir string
	file    string
	project string
}

// NewCompose returns the docker compose driver.
func NewCompose(fsys afero.Fs, runner process.Runner, workDir string, cfg config.ProvisionerConfig) *Compose {
	return &Compose{
		fs:      fsys,
		run:     runner,
		workDir: workDir,
		file:    cfg.ComposeFile,
		project: cfg.Project,
	}
}

// Preflight checks that the compose plugin answers and the compose file exists.
func (c *Compose) Preflight(ctx context.Context) error {
	if _, err := c.run.Run(ctx, process.Command{
		Name: "docker",
		Args: []string{"compose", "version"},
		Dir:  c.workDir,
	}); err != nil {
		return fmt.Errorf("docker compose unavailable: %w", err)
	}

	path := c.file
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.workDir, path)
	}
	ok, err := afero.Exists(c.fs, path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("compose file %s not found", path)
	}
	return nil
}

// Provision brings up the named compose services detached. Handles carry the
// configured host and port since compose publishes fixed ports.
func (c *Compose) Provision(ctx context.Context, specs []orchestrator.ServiceSpec) ([]orchestrator.ServiceHandle, error) {
	services := serviceNames(specs)

	slog.InfoContext(ctx, "starting services", "driver", "compose", "services", services)
	if _, err := c.run.Run(ctx, c.command(append([]string{"up", "-d"}, services...)...)); err != nil {
		return nil, fmt.Errorf("compose up: %w", err)
	}

	handles := make([]orchestrator.ServiceHandle, 0, len(specs))
	for _, s := range specs {
		handles = append(handles, orchestrator.NewServiceHandle(s, composeService(s), nil))
		slog.InfoContext(ctx, "service started", "service", s.Name, "addr", fmt.Sprintf("%s:%d", s.Host, s.Port))
	}
	return handles, nil
}

// Stop stops the named compose services, keeping containers and volumes.
func (c *Compose) Stop(ctx context.Context, specs []orchestrator.ServiceSpec) error {
	services := serviceNames(specs)

	slog.InfoContext(ctx, "stopping services", "driver", "compose", "services", services)
	if _, err := c.run.Run(ctx, c.command(append([]string{"stop"}, services...)...)); err != nil {
		return fmt.Errorf("compose stop: %w", err)
	}
	return nil
}

func (c *Compose) command(args ...string) process.Command {
	base := []string{"compose"}
	if c.project != "" {
		base = append(base, "-p", c.project)
	}
	if c.file != "" {
		base = append(base, "-f", c.file)
	}
	return process.Command{
		Name: "docker",
		Args: append(base, args...),
		Dir:  c.workDir,
	}
}

func composeService(s orchestrator.ServiceSpec) string {
	if s.Service != "" {
		return s.Service
	}
	return s.Name
}

func serviceNames(specs []orchestrator.ServiceSpec) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, composeService(s))
	}
	return names
}
