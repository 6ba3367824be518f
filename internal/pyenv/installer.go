// Package pyenv prepares the backend's Python virtual environment and runs
// tools inside it.
package pyenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/mod/semver"

	"studysprint/devenv/internal/config"
	"studysprint/devenv/internal/process"
)

// Installer creates the virtual environment and installs the manifest.
type Installer struct {
	fs          afero.Fs
	run         process.Runner
	workDir     string
	interpreter string
	minVersion  string
	venvDir     string
	manifest    string
}

// New returns an Installer for the backend checkout at workDir.
func New(fsys afero.Fs, runner process.Runner, workDir string, cfg config.RuntimeConfig) *Installer {
	return &Installer{
		fs:          fsys,
		run:         runner,
		workDir:     workDir,
		interpreter: cfg.Interpreter,
		minVersion:  cfg.MinVersion,
		venvDir:     cfg.VenvDir,
		manifest:    cfg.Manifest,
	}
}

// Python returns the venv interpreter path, relative to WorkDir unless the
// venv directory is absolute.
func (i *Installer) Python() string {
	return filepath.Join(i.venvDir, "bin", "python")
}

// WorkDir is the directory tools run in.
func (i *Installer) WorkDir() string { return i.workDir }

// Preflight checks the interpreter version and the manifest without
// changing anything on disk.
func (i *Installer) Preflight(ctx context.Context) error {
	res, err := i.run.Run(ctx, process.Command{
		Name: i.interpreter,
		Args: []string{"--version"},
		Dir:  i.workDir,
	})
	if err != nil {
		return fmt.Errorf("interpreter %s unavailable: %w", i.interpreter, err)
	}

	version, err := ParseVersion(res.Output)
	if err != nil {
		return err
	}
	if i.minVersion != "" && semver.Compare(version, "v"+i.minVersion) < 0 {
		return fmt.Errorf("%s is %s, need at least %s", i.interpreter, strings.TrimPrefix(version, "v"), i.minVersion)
	}
	slog.DebugContext(ctx, "interpreter version ok", "interpreter", i.interpreter, "version", version)

	manifest := i.path(i.manifest)
	if ok, err := afero.Exists(i.fs, manifest); err != nil {
		return fmt.Errorf("checking %s: %w", manifest, err)
	} else if !ok {
		return fmt.Errorf("dependency manifest %s not found", manifest)
	}
	return nil
}

// Install creates the venv if it does not exist yet and installs the
// manifest into it.
func (i *Installer) Install(ctx context.Context) error {
	exists, err := afero.Exists(i.fs, i.path(i.Python()))
	if err != nil {
		return fmt.Errorf("checking venv: %w", err)
	}
	if !exists {
		slog.InfoContext(ctx, "creating virtual environment", "dir", i.path(i.venvDir))
		if _, err := i.run.Run(ctx, process.Command{
			Name: i.interpreter,
			Args: []string{"-m", "venv", i.venvDir},
			Dir:  i.workDir,
		}); err != nil {
			return fmt.Errorf("creating venv: %w", err)
		}
	} else {
		slog.DebugContext(ctx, "virtual environment present", "dir", i.path(i.venvDir))
	}

	slog.InfoContext(ctx, "installing dependencies", "manifest", i.manifest)
	if _, err := i.run.Run(ctx, process.Command{
		Name: i.Python(),
		Args: []string{"-m", "pip", "install", "-r", i.manifest},
		Dir:  i.workDir,
	}); err != nil {
		return fmt.Errorf("installing %s: %w", i.manifest, err)
	}
	return nil
}

// RunTests runs pytest for t.Module with coverage reporting for t.Coverage,
// streaming its output. A positive t.FailUnder fails the run below that
// coverage percentage. The pytest exit code is returned alongside any error.
func (i *Installer) RunTests(ctx context.Context, t config.TestsConfig, stdout, stderr io.Writer) (int, error) {
	args := []string{"-m", "pytest", t.Module}
	if t.Coverage != "" {
		args = append(args, "--cov="+t.Coverage, "--cov-report=term-missing")
		if t.FailUnder > 0 {
			args = append(args, "--cov-fail-under="+strconv.Itoa(t.FailUnder))
		}
	}

	res, err := i.run.Run(ctx, process.Command{
		Name:   i.Python(),
		Args:   args,
		Dir:    i.workDir,
		Stdout: stdout,
		Stderr: stderr,
	})
	return res.ExitCode, err
}

func (i *Installer) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(i.workDir, p)
}

// ParseVersion extracts a semver string ("v3.11.4") from `python --version`
// output such as "Python 3.11.4" or "Python 3.13.0rc1".
func ParseVersion(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "Python" {
		return "", fmt.Errorf("unrecognised interpreter version output %q", strings.TrimSpace(out))
	}

	raw := fields[1]
	end := 0
	for end < len(raw) && (raw[end] == '.' || (raw[end] >= '0' && raw[end] <= '9')) {
		end++
	}
	v := "v" + strings.TrimSuffix(raw[:end], ".")
	if !semver.IsValid(v) {
		return "", fmt.Errorf("unrecognised interpreter version %q", raw)
	}
	return semver.Canonical(v), nil
}
