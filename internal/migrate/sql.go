package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/afero"

	"studysprint/devenv/internal/clients"
	"studysprint/devenv/internal/orchestrator"
)

// schema is the subset of *migrate.Migrate used by SQL.
type schema interface {
	Up() error
	Version() (version uint, dirty bool, err error)
	Close() (srcErr error, dbErr error)
}

// SQL applies versioned *.up.sql files with golang-migrate. There is no
// generate step; scripts are written by hand.
type SQL struct {
	fs      afero.Fs
	dir     string
	sslMode string
	open    func(src source.Driver, dsn string) (schema, error)
}

// NewSQL returns the golang-migrate driver reading migrations from dir.
func NewSQL(fsys afero.Fs, dir, sslMode string) *SQL {
	return &SQL{fs: fsys, dir: dir, sslMode: sslMode, open: openMigrate}
}

// Preflight checks that dir holds at least one migration.
func (s *SQL) Preflight(_ context.Context) error {
	src, err := s.source()
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck

	if _, err := src.First(); err != nil {
		return fmt.Errorf("no migrations in %s: %w", s.dir, err)
	}
	return nil
}

// Generate is not supported by this driver.
func (s *SQL) Generate(_ context.Context, _ orchestrator.ServiceHandle) error {
	return orchestrator.ErrStepSkipped
}

// Apply runs every pending up migration in version order.
func (s *SQL) Apply(ctx context.Context, db orchestrator.ServiceHandle) error {
	src, err := s.source()
	if err != nil {
		return err
	}

	m, err := s.open(src, DSN(db, s.sslMode))
	if err != nil {
		src.Close() //nolint:errcheck
		return fmt.Errorf("opening migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.WarnContext(ctx, "closing migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		slog.InfoContext(ctx, "schema already current", "service", db.Name)
	case err != nil:
		return fmt.Errorf("applying migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	slog.InfoContext(ctx, "migrations applied", "service", db.Name, "version", version)
	return nil
}

// source opens the migration directory through the afero filesystem.
func (s *SQL) source() (source.Driver, error) {
	fsys, dir := s.fs, s.dir
	if filepath.IsAbs(dir) {
		fsys = afero.NewBasePathFs(fsys, string(filepath.Separator))
		dir = strings.TrimPrefix(filepath.ToSlash(dir), "/")
	}

	src, err := iofs.New(afero.NewIOFS(fsys), filepath.ToSlash(dir))
	if err != nil {
		return nil, fmt.Errorf("reading migrations from %s: %w", s.dir, err)
	}
	return src, nil
}

// DSN renders the pgx5:// URL golang-migrate's pgx driver expects.
func DSN(db orchestrator.ServiceHandle, sslMode string) string {
	return "pgx5" + strings.TrimPrefix(clients.PostgresDSN(db, sslMode), "postgres")
}

func openMigrate(src source.Driver, dsn string) (schema, error) {
	return migrate.NewWithSourceInstance("iofs", src, dsn)
}
