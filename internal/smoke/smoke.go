// Package smoke starts the backend application, checks that it answers its
// health endpoint, exercises user registration once and always stops the
// application again.
package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"studysprint/devenv/internal/config"
	"studysprint/devenv/internal/orchestrator"
	"studysprint/devenv/internal/process"
)

// Check names reported in the SmokeReport.
const (
	CheckLaunch   = "launch"
	CheckHealth   = "health"
	CheckRegister = "register"
)

// maxBody bounds how much of a response body is read.
const maxBody = 64 << 10

// App is a running application process.
type App interface {
	Stop(ctx context.Context, grace time.Duration) error
	Done() <-chan struct{}
	Output() string
}

// Launcher starts the application in the background.
type Launcher interface {
	Start(ctx context.Context, c process.Command) (App, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, c process.Command) (App, error)

func (f LauncherFunc) Start(ctx context.Context, c process.Command) (App, error) { return f(ctx, c) }

// ExecLauncher launches the application as a real child process.
func ExecLauncher() Launcher {
	return LauncherFunc(func(ctx context.Context, c process.Command) (App, error) {
		p, err := process.Exec{}.Start(ctx, c)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Registration is the request body sent to the register endpoint.
type Registration struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// ExampleRegistration is the fixed example account.
var ExampleRegistration = Registration{
	Email:           "test@example.com",
	Username:        "testuser",
	FullName:        "Test User",
	Password:        "TestPassword123!",
	ConfirmPassword: "TestPassword123!",
}

// Tester runs the smoke checks against a freshly started application.
type Tester struct {
	fs       afero.Fs
	launcher Launcher
	client   *http.Client
	cfg      config.SmokeConfig
	workDir  string
	venvDir  string
	sleep    orchestrator.SleepFunc
	newID    func() string
}

// New returns a Tester. Commands found in <workDir>/<venvDir>/bin are run
// from there.
func New(fsys afero.Fs, launcher Launcher, workDir, venvDir string, cfg config.SmokeConfig) *Tester {
	return &Tester{
		fs:       fsys,
		launcher: launcher,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		cfg:      cfg,
		workDir:  workDir,
		venvDir:  venvDir,
		sleep:    orchestrator.Sleep,
		newID:    func() string { return uuid.NewString() },
	}
}

// Preflight checks that a launch command is configured.
func (t *Tester) Preflight(_ context.Context) error {
	if len(t.cfg.Command) == 0 || t.cfg.Command[0] == "" {
		return errors.New("no application command configured")
	}
	if t.cfg.BaseURL == "" {
		return errors.New("no application base URL configured")
	}
	return nil
}

// Run starts the application with the handles' connection variables,
// waits the settle delay, then checks health and registration. The
// application is stopped before Run returns, whatever the outcome. The
// report lists every check that ran; any failed check is an error.
func (t *Tester) Run(ctx context.Context, handles []orchestrator.ServiceHandle) (*orchestrator.SmokeReport, error) {
	report := &orchestrator.SmokeReport{}

	cmd := process.Command{
		Name: t.binary(t.cfg.Command[0]),
		Args: t.cfg.Command[1:],
		Dir:  t.workDir,
		Env:  orchestrator.ConnectionEnv(handles),
	}
	app, err := t.launcher.Start(ctx, cmd)
	if err != nil {
		report.Checks = append(report.Checks, orchestrator.CheckResult{Name: CheckLaunch, Error: err.Error()})
		return report, fmt.Errorf("launching application: %w", err)
	}
	report.Checks = append(report.Checks, orchestrator.CheckResult{Name: CheckLaunch, OK: true})

	defer func() {
		// Stop even when ctx is already cancelled.
		stopCtx := context.WithoutCancel(ctx)
		if err := app.Stop(stopCtx, t.cfg.StopTimeout); err != nil {
			slog.ErrorContext(stopCtx, "stopping application", "error", err)
			return
		}
		slog.InfoContext(stopCtx, "application stopped")
	}()

	slog.InfoContext(ctx, "waiting for application to settle", "delay", t.cfg.SettleDelay)
	if err := t.sleep(ctx, t.cfg.SettleDelay); err != nil {
		return report, err
	}

	health := t.checkHealth(ctx, app)
	report.Checks = append(report.Checks, health)
	if !health.OK {
		return report, checkError(health, app)
	}

	if !t.cfg.Register {
		return report, nil
	}

	reg := t.checkRegister(ctx)
	report.Checks = append(report.Checks, reg)
	if !reg.OK {
		return report, checkError(reg, nil)
	}
	return report, nil
}

// checkHealth polls the health endpoint until it reports the marker or the
// attempt budget runs out.
func (t *Tester) checkHealth(ctx context.Context, app App) orchestrator.CheckResult {
	url := t.url(t.cfg.HealthPath)
	var last orchestrator.CheckResult

	// An exited application ends polling early.
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	probe := orchestrator.ProberFunc(func(ctx context.Context) orchestrator.ProbeResult {
		select {
		case <-app.Done():
			last = orchestrator.CheckResult{Name: CheckHealth, Error: "application exited"}
			cancel()
			return orchestrator.ProbeResult{Name: CheckHealth, Error: last.Error}
		default:
		}

		last = t.get(ctx, url)
		return orchestrator.ProbeResult{Name: CheckHealth, OK: last.OK, Error: last.Error}
	})

	attempts := t.cfg.HealthAttempts
	if attempts < 1 {
		attempts = 1
	}
	poller := orchestrator.Poller{Interval: t.cfg.HealthInterval, MaxAttempts: attempts, Sleep: t.sleep}
	r := poller.Poll(pctx, CheckHealth, probe)
	if r.State != orchestrator.StateReady && last.Error == "" {
		last.Error = r.LastError
	}
	return last
}

func (t *Tester) get(ctx context.Context, url string) orchestrator.CheckResult {
	res := orchestrator.CheckResult{Name: CheckHealth}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	status, body, err := t.do(req)
	res.StatusCode = status
	switch {
	case err != nil:
		res.Error = err.Error()
	case !strings.Contains(string(body), t.cfg.HealthMarker):
		res.Error = fmt.Sprintf("response does not contain %q", t.cfg.HealthMarker)
	default:
		res.OK = true
	}
	return res
}

// checkRegister issues the registration request exactly once.
func (t *Tester) checkRegister(ctx context.Context) orchestrator.CheckResult {
	res := orchestrator.CheckResult{Name: CheckRegister}

	payload, err := json.Marshal(t.registration())
	if err != nil {
		res.Error = err.Error()
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(t.cfg.RegisterPath), bytes.NewReader(payload))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := t.do(req)
	res.StatusCode = status
	switch {
	case err != nil:
		res.Error = err.Error()
	case !Succeeded(body, t.cfg.SuccessMarker):
		res.Error = fmt.Sprintf("response does not report %q: %s", t.cfg.SuccessMarker, snippet(body))
	default:
		res.OK = true
	}
	return res
}

func (t *Tester) registration() Registration {
	r := ExampleRegistration
	if t.cfg.UniqueUser {
		id := strings.ReplaceAll(t.newID(), "-", "")[:8]
		r.Email = "test_" + id + "@example.com"
		r.Username = "testuser_" + id
	}
	return r
}

func (t *Tester) do(req *http.Request) (int, []byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (t *Tester) url(path string) string {
	return strings.TrimSuffix(t.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// binary resolves name inside the venv when it is installed there.
func (t *Tester) binary(name string) string {
	if strings.ContainsRune(name, filepath.Separator) || t.venvDir == "" {
		return name
	}
	candidate := filepath.Join(t.venvDir, "bin", name)
	full := candidate
	if !filepath.IsAbs(full) {
		full = filepath.Join(t.workDir, candidate)
	}
	if ok, _ := afero.Exists(t.fs, full); ok {
		return candidate
	}
	return name
}

// Succeeded reports whether body signals success. A JSON object whose marker
// field is a boolean decides by that value; anything else must contain the
// marker.
func Succeeded(body []byte, marker string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		if raw, ok := obj[marker]; ok {
			var b bool
			if err := json.Unmarshal(raw, &b); err == nil {
				return b
			}
		}
	}
	return bytes.Contains(body, []byte(marker))
}

func checkError(c orchestrator.CheckResult, app App) error {
	err := fmt.Errorf("%s check failed: %s", c.Name, c.Error)
	if app != nil {
		if out := strings.TrimSpace(app.Output()); out != "" {
			slog.Warn("application output", "check", c.Name, "output", snippet([]byte(out)))
		}
	}
	return err
}

func snippet(b []byte) string {
	const n = 200
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
