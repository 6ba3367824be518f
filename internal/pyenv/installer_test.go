package pyenv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysprint/devenv/internal/config"
	"studysprint/devenv/internal/process"
)

// fakeRunner records commands and answers from a script keyed by the
// command line.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []process.Command
	results map[string]process.Result
	errs    map[string]error
	onRun   func(c process.Command)
}

func (f *fakeRunner) Run(_ context.Context, c process.Command) (process.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.onRun != nil {
		f.onRun(c)
	}
	key := c.String()
	return f.results[key], f.errs[key]
}

func (f *fakeRunner) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

var runtimeCfg = config.RuntimeConfig{
	Interpreter: "python3",
	MinVersion:  "3.11",
	VenvDir:     "venv",
	Manifest:    "requirements.txt",
}

func newInstaller(t *testing.T, runner *fakeRunner, files ...string) (*Installer, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fsys, f, []byte("x"), 0o644))
	}
	return New(fsys, runner, "backend", runtimeCfg), fsys
}

func TestPreflight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version string
		runErr  error
		files   []string
		wantErr string
	}{
		{name: "supported", version: "Python 3.11.4\n", files: []string{"backend/requirements.txt"}},
		{name: "newer minor", version: "Python 3.13.0rc1\n", files: []string{"backend/requirements.txt"}},
		{name: "too old", version: "Python 3.9.18\n", files: []string{"backend/requirements.txt"}, wantErr: "python3 is 3.9.18, need at least 3.11"},
		{name: "interpreter missing", runErr: errors.New("executable file not found"), wantErr: "interpreter python3 unavailable"},
		{name: "garbage output", version: "bash: python3: command not found", files: []string{"backend/requirements.txt"}, wantErr: "unrecognised"},
		{name: "manifest missing", version: "Python 3.12.1\n", wantErr: "manifest backend/requirements.txt not found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{
				results: map[string]process.Result{"python3 --version": {Output: tc.version}},
				errs:    map[string]error{"python3 --version": tc.runErr},
			}
			inst, _ := newInstaller(t, runner, tc.files...)

			err := inst.Preflight(context.Background())
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, []string{"python3 --version"}, runner.lines(), "preflight must not run anything else")
		})
	}
}

func TestInstall_CreatesVenvOnce(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	inst, fsys := newInstaller(t, runner, "backend/requirements.txt")
	runner.onRun = func(c process.Command) {
		if strings.Contains(c.String(), "-m venv") {
			_ = afero.WriteFile(fsys, "backend/venv/bin/python", nil, 0o755)
		}
	}

	require.NoError(t, inst.Install(context.Background()))
	require.NoError(t, inst.Install(context.Background()))

	assert.Equal(t, []string{
		"python3 -m venv venv",
		"venv/bin/python -m pip install -r requirements.txt",
		"venv/bin/python -m pip install -r requirements.txt",
	}, runner.lines())
	for _, c := range runner.calls {
		assert.Equal(t, "backend", c.Dir)
	}
}

func TestInstall_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing string
		wantErr string
	}{
		{name: "venv creation", failing: "python3 -m venv venv", wantErr: "creating venv"},
		{name: "pip install", failing: "venv/bin/python -m pip install -r requirements.txt", wantErr: "installing requirements.txt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{errs: map[string]error{
				tc.failing: &process.ExitError{Command: tc.failing, Code: 1},
			}}
			inst, _ := newInstaller(t, runner)

			err := inst.Install(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)

			var exitErr *process.ExitError
			assert.True(t, errors.As(err, &exitErr))
		})
	}
}

func TestRunTests(t *testing.T) {
	t.Parallel()

	line := "venv/bin/python -m pytest modules/users/tests/ --cov=modules.users --cov-report=term-missing --cov-fail-under=90"
	runner := &fakeRunner{
		results: map[string]process.Result{line: {ExitCode: 1}},
		errs:    map[string]error{line: &process.ExitError{Command: line, Code: 1}},
	}
	inst, _ := newInstaller(t, runner)

	var stdout, stderr bytes.Buffer
	code, err := inst.RunTests(context.Background(), config.TestsConfig{
		Module:    "modules/users/tests/",
		Coverage:  "modules.users",
		FailUnder: 90,
	}, &stdout, &stderr)
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, []string{line}, runner.lines())
	assert.Same(t, &stdout, runner.calls[0].Stdout.(*bytes.Buffer))
}

func TestRunTests_Arguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tests config.TestsConfig
		want  string
	}{
		{
			name:  "no coverage",
			tests: config.TestsConfig{Module: "modules/users/tests/", FailUnder: 90},
			want:  "venv/bin/python -m pytest modules/users/tests/",
		},
		{
			name:  "coverage without threshold",
			tests: config.TestsConfig{Module: "modules/users/tests/", Coverage: "modules.users"},
			want:  "venv/bin/python -m pytest modules/users/tests/ --cov=modules.users --cov-report=term-missing",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{}
			inst, _ := newInstaller(t, runner)

			code, err := inst.RunTests(context.Background(), tc.tests, io.Discard, io.Discard)
			require.NoError(t, err)
			assert.Equal(t, 0, code)
			assert.Equal(t, []string{tc.want}, runner.lines())
		})
	}
}

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Python 3.11.4", want: "v3.11.4"},
		{in: "Python 3.12\n", want: "v3.12.0"},
		{in: "Python 3.13.0rc1", want: "v3.13.0"},
		{in: "Python 3.10.12+", want: "v3.10.12"},
		{in: "python 3.11.0", wantErr: true},
		{in: "", wantErr: true},
		{in: "Python abc", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseVersion(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
