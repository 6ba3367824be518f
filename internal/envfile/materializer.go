// Package envfile materializes the backend's .env file and the runtime
// directories the application expects.
package envfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"studysprint/devenv/internal/config"
	"studysprint/devenv/internal/orchestrator"
)

// Materializer ensures the target dotenv file and runtime directories exist.
type Materializer struct {
	fs       afero.Fs
	template string
	target   string
	dirs     []string
}

// New returns a Materializer rooted at workDir. Relative paths in cfg are
// resolved against workDir.
func New(fsys afero.Fs, workDir string, cfg config.EnvironmentConfig) *Materializer {
	dirs := make([]string, 0, len(cfg.Dirs))
	for _, d := range cfg.Dirs {
		dirs = append(dirs, resolve(workDir, d))
	}
	return &Materializer{
		fs:       fsys,
		template: resolve(workDir, cfg.Template),
		target:   resolve(workDir, cfg.Target),
		dirs:     dirs,
	}
}

// Preflight fails when neither the target nor the template exists, so the
// environment stage could not succeed.
func (m *Materializer) Preflight(_ context.Context) error {
	if ok, err := afero.Exists(m.fs, m.target); err != nil {
		return fmt.Errorf("checking %s: %w", m.target, err)
	} else if ok {
		return nil
	}
	ok, err := afero.Exists(m.fs, m.template)
	if err != nil {
		return fmt.Errorf("checking %s: %w", m.template, err)
	}
	if !ok {
		return fmt.Errorf("neither %s nor template %s exists", m.target, m.template)
	}
	return nil
}

// Materialize copies the template to the target when the target is absent,
// creates the runtime directories and returns the parsed variables. An
// existing target is never modified.
func (m *Materializer) Materialize(ctx context.Context) (*orchestrator.EnvReport, error) {
	report := &orchestrator.EnvReport{Path: m.target}

	exists, err := afero.Exists(m.fs, m.target)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", m.target, err)
	}
	if !exists {
		if err := m.copyTemplate(); err != nil {
			return nil, err
		}
		report.Created = true
		slog.WarnContext(ctx, "created env file from template; review it before relying on it",
			"path", m.target, "template", m.template)
	} else {
		slog.DebugContext(ctx, "env file already present", "path", m.target)
	}

	for _, d := range m.dirs {
		if err := m.fs.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", d, err)
		}
		report.Dirs = append(report.Dirs, d)
	}

	vars, err := Parse(m.fs, m.target)
	if err != nil {
		return nil, err
	}
	report.Vars = vars

	if v, ok := vars["SECRET_KEY"]; !ok || v == config.PlaceholderSecretKey {
		slog.WarnContext(ctx, "SECRET_KEY still holds the template placeholder", "path", m.target)
	}

	return report, nil
}

func (m *Materializer) copyTemplate() error {
	data, err := afero.ReadFile(m.fs, m.template)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("template %s not found", m.template)
		}
		return fmt.Errorf("reading template %s: %w", m.template, err)
	}

	info, err := m.fs.Stat(m.template)
	if err != nil {
		return fmt.Errorf("stat template %s: %w", m.template, err)
	}

	if err := m.fs.MkdirAll(filepath.Dir(m.target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", m.target, err)
	}
	if err := afero.WriteFile(m.fs, m.target, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing %s: %w", m.target, err)
	}
	return nil
}

// Parse reads a dotenv file. Keys are returned upper-cased.
func Parse(fsys afero.Fs, path string) (map[string]string, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigType("env")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	vars := make(map[string]string, len(v.AllKeys()))
	for _, k := range v.AllKeys() {
		vars[strings.ToUpper(k)] = v.GetString(k)
	}
	return vars, nil
}

func resolve(workDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workDir, p)
}
