package clients

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"studysprint/devenv/internal/orchestrator"
)

// dbPinger abstracts the pgxpool.Pool methods used in Probe so that tests
// can inject a fake without standing up a real database.
type dbPinger interface {
	Ping(ctx context.Context) error
	Close()
}

// PostgresClient probes a provisioned Postgres service through a circuit breaker.
type PostgresClient struct {
	handle   orchestrator.ServiceHandle
	sslMode  string
	maxConns int32
	cb       *gobreaker.CircuitBreaker
	connect  func(ctx context.Context, dsn string, maxConns int32) (dbPinger, error)
}

// NewPostgresClient creates a PostgresClient that opens a short-lived pgx pool
// on every Probe. No connection is made at construction time.
func NewPostgresClient(h orchestrator.ServiceHandle, sslMode string, maxConns int32, cb *gobreaker.CircuitBreaker) *PostgresClient {
	return &PostgresClient{
		handle:   h,
		sslMode:  sslMode,
		maxConns: maxConns,
		cb:       cb,
		connect:  realConnect,
	}
}

// Probe reports whether the server accepts authenticated connections to the
// configured database, the same question pg_isready answers.
func (c *PostgresClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		pool, err := c.connect(ctx, c.DSN(), c.maxConns)
		if err != nil {
			return nil, err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return nil, nil
	})

	return probeResult(c.handle.Name, start, err)
}

// DSN renders the postgres:// URL for the handle.
func (c *PostgresClient) DSN() string {
	return PostgresDSN(c.handle, c.sslMode)
}

// PostgresDSN renders the postgres:// URL for h.
func PostgresDSN(h orchestrator.ServiceHandle, sslMode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(h.User, h.Password),
		Host:   h.Addr(),
		Path:   "/" + h.Database,
	}
	if sslMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(sslMode)
	}
	return u.String()
}

// realConnect opens a pgxpool.Pool for dsn.
func realConnect(ctx context.Context, dsn string, maxConns int32) (dbPinger, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	return pool, nil
}

// probeResult converts a breaker-wrapped check into a ProbeResult.
func probeResult(name string, start time.Time, err error) orchestrator.ProbeResult {
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			errMsg = "circuit open"
		}
		return orchestrator.ProbeResult{
			Name:      name,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return orchestrator.ProbeResult{
		Name:      name,
		OK:        true,
		LatencyMs: latency,
	}
}
