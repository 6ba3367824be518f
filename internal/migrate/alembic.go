// Package migrate evolves the backend database schema. Both drivers run a
// generate step followed by an apply step; applying is a no-op when the
// schema is already current.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"studysprint/devenv/internal/orchestrator"
	"studysprint/devenv/internal/process"
)

// Alembic drives the backend's own alembic setup through the venv
// interpreter, with the database handle's connection variables injected.
type Alembic struct {
	fs      afero.Fs
	run     process.Runner
	python  string
	workDir string
	message string
}

// NewAlembic returns the alembic driver. python is the venv interpreter,
// relative to workDir unless absolute.
func NewAlembic(fsys afero.Fs, runner process.Runner, python, workDir, message string) *Alembic {
	return &Alembic{
		fs:      fsys,
		run:     runner,
		python:  python,
		workDir: workDir,
		message: message,
	}
}

// Preflight checks that the checkout carries an alembic configuration.
func (a *Alembic) Preflight(_ context.Context) error {
	ini := filepath.Join(a.workDir, "alembic.ini")
	ok, err := afero.Exists(a.fs, ini)
	if err != nil {
		return fmt.Errorf("checking %s: %w", ini, err)
	}
	if !ok {
		return fmt.Errorf("alembic configuration %s not found", ini)
	}
	return nil
}

// Generate autogenerates a revision by diffing the models against db.
func (a *Alembic) Generate(ctx context.Context, db orchestrator.ServiceHandle) error {
	if err := a.alembic(ctx, db, "revision", "--autogenerate", "-m", a.message); err != nil {
		return fmt.Errorf("generating revision: %w", err)
	}
	slog.InfoContext(ctx, "migration revision generated", "service", db.Name, "message", a.message)
	return nil
}

// Apply upgrades db to the newest revision.
func (a *Alembic) Apply(ctx context.Context, db orchestrator.ServiceHandle) error {
	if err := a.alembic(ctx, db, "upgrade", "head"); err != nil {
		return fmt.Errorf("upgrading to head: %w", err)
	}
	slog.InfoContext(ctx, "migrations applied", "service", db.Name)
	return nil
}

func (a *Alembic) alembic(ctx context.Context, db orchestrator.ServiceHandle, args ...string) error {
	_, err := a.run.Run(ctx, process.Command{
		Name: a.python,
		Args: append([]string{"-m", "alembic"}, args...),
		Dir:  a.workDir,
		Env:  orchestrator.ConnectionEnv([]orchestrator.ServiceHandle{db}),
	})
	return err
}
