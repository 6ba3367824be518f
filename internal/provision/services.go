package provision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"studysprint/devenv/internal/config"
	"studysprint/devenv/internal/envfile"
	"studysprint/devenv/internal/orchestrator"
)

// Specs returns the Postgres and Redis services described by b.
func Specs(b config.BootstrapConfig) []orchestrator.ServiceSpec {
	return []orchestrator.ServiceSpec{
		{
			Name:     orchestrator.KindPostgres,
			Kind:     orchestrator.KindPostgres,
			Image:    b.Postgres.Image,
			Service:  b.Postgres.Service,
			Host:     b.Postgres.Host,
			Port:     b.Postgres.Port,
			User:     b.Postgres.User,
			Password: b.Postgres.Password,
			Database: b.Postgres.DB,
		},
		{
			Name:     orchestrator.KindRedis,
			Kind:     orchestrator.KindRedis,
			Image:    b.Redis.Image,
			Service:  b.Redis.Service,
			Host:     b.Redis.Host,
			Port:     b.Redis.Port,
			Password: b.Redis.Password,
			DB:       b.Redis.DB,
		},
	}
}

// Resolver overlays the connection settings of the materialized .env onto
// b. Without a report (no bootstrap has run) the target file is read if it
// exists. On error the unmodified specs of b are returned with it.
func Resolver(fsys afero.Fs, b config.BootstrapConfig) orchestrator.ServiceResolver {
	target := b.Environment.Target
	if !filepath.IsAbs(target) {
		target = filepath.Join(b.WorkDir, target)
	}

	return func(report *orchestrator.EnvReport) ([]orchestrator.ServiceSpec, error) {
		var vars map[string]string
		switch {
		case report != nil:
			vars = report.Vars
		default:
			if ok, _ := afero.Exists(fsys, target); ok {
				parsed, err := envfile.Parse(fsys, target)
				if err != nil {
					return Specs(b), err
				}
				vars = parsed
			}
		}

		env, err := config.ParseAppEnv(vars)
		if err != nil {
			return Specs(b), fmt.Errorf("%s: %w", target, err)
		}
		if vars != nil && env.HasPlaceholderSecret() {
			slog.DebugContext(context.Background(), "application secret not customised", "path", target)
		}
		return Specs(b.Overlay(env)), nil
	}
}
