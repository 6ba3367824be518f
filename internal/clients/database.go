package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"studysprint/devenv/internal/orchestrator"
)

// duplicateDatabase is the SQLSTATE for CREATE DATABASE on an existing name.
const duplicateDatabase = "42P04"

// sqlConn is the part of *pgx.Conn used to run DDL.
type sqlConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// Databases creates databases on a provisioned Postgres server, connecting as
// the handle's user to the handle's database.
type Databases struct {
	handle  orchestrator.ServiceHandle
	sslMode string
	connect func(ctx context.Context, dsn string) (sqlConn, error)
}

func NewDatabases(h orchestrator.ServiceHandle, sslMode string) *Databases {
	return &Databases{handle: h, sslMode: sslMode, connect: connectConn}
}

// Ensure creates database name unless it already exists. created reports
// whether this call created it.
func (d *Databases) Ensure(ctx context.Context, name string) (created bool, err error) {
	conn, err := d.connect(ctx, PostgresDSN(d.handle, d.sslMode))
	if err != nil {
		return false, fmt.Errorf("connecting to %s: %w", d.handle.Name, err)
	}
	defer conn.Close(ctx) //nolint:errcheck

	_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &pgErr) && pgErr.Code == duplicateDatabase:
		return false, nil
	default:
		return false, fmt.Errorf("creating database %s: %w", name, err)
	}
}

func connectConn(ctx context.Context, dsn string) (sqlConn, error) {
	return pgx.Connect(ctx, dsn)
}
