package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"studysprint/devenv/internal/api"
	"studysprint/devenv/internal/clients"
	"studysprint/devenv/internal/config"
	"studysprint/devenv/internal/envfile"
	"studysprint/devenv/internal/migrate"
	"studysprint/devenv/internal/orchestrator"
	"studysprint/devenv/internal/process"
	"studysprint/devenv/internal/provision"
	"studysprint/devenv/internal/pyenv"
	"studysprint/devenv/internal/smoke"
	"studysprint/devenv/internal/telemetry"
	"studysprint/devenv/internal/ui"

	"github.com/spf13/afero"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	ui           *ui.UI
	installer    *pyenv.Installer
	compose      *provision.Compose
	services     orchestrator.ServiceResolver
	orchestrator *orchestrator.Orchestrator
	router       *api.Router
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates the stage implementations selected by the configured drivers
//  3. Creates the orchestrator
//  4. Creates the HTTP router
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg, ui: ui.New(os.Stderr, os.Stderr)}

	// OTEL is best-effort: a missing collector must never block a bootstrap.
	tp, err := telemetry.InitProvider(ctx,
		cfg.Telemetry.OTLPEndpoint,
		cfg.Telemetry.ServiceName,
		version,
		cfg.Telemetry.OTLPInsecure,
	)
	if err != nil {
		slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
	} else {
		app.otelProvider = tp
		if !tp.Enabled() {
			slog.Debug("OTEL telemetry disabled (no endpoint configured)")
		}
	}

	b := cfg.Bootstrap
	fsys := afero.NewOsFs()
	runner := process.Exec{}

	app.installer = pyenv.New(fsys, runner, b.WorkDir, b.Runtime)
	app.compose = provision.NewCompose(fsys, runner, b.WorkDir, b.Provisioner)
	app.services = provision.Resolver(fsys, b)

	var provisioner orchestrator.ServiceProvisioner = app.compose
	if b.Provisioner.Driver == "containers" {
		provisioner = provision.NewContainers(b.Provisioner.Project)
	}

	var migrator orchestrator.SchemaMigrator
	switch b.Migrate.Driver {
	case "sql":
		dir := b.Migrate.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(b.WorkDir, dir)
		}
		migrator = migrate.NewSQL(fsys, dir, b.Postgres.SSLMode)
	default:
		migrator = migrate.NewAlembic(fsys, runner, app.installer.Python(), b.WorkDir, b.Migrate.Message)
	}

	probes := clients.NewFactory(b.Postgres.SSLMode, b.Postgres.MaxConns, b.Readiness.BreakerTimeout)

	app.orchestrator = orchestrator.New(orchestrator.Components{
		Env:         envfile.New(fsys, b.WorkDir, b.Environment),
		Installer:   app.installer,
		Services:    app.services,
		Provisioner: provisioner,
		Probes:      probes.ProberFor,
		Migrator:    migrator,
		Smoke:       smoke.New(fsys, smoke.ExecLauncher(), b.WorkDir, b.Runtime.VenvDir, b.Smoke),
	}, orchestrator.Options{
		Poller:      orchestrator.NewPoller(b.Readiness.Interval, b.Readiness.MaxAttempts),
		Parallel:    b.Readiness.Parallel,
		SkipInstall: skipInstall,
		SkipSmoke:   skipSmoke,
	})
	app.router = api.NewRouter(app.orchestrator, cfg.Telemetry.ServiceName, b.Timeout)

	return app, nil
}

// Close flushes telemetry.
func (a *AppContext) Close() {
	if a.otelProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelProvider.Shutdown(ctx); err != nil {
		slog.Warn("OTEL shutdown error", "err", err)
	}
}
