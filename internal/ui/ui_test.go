package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"studysprint/devenv/internal/orchestrator"
)

func TestBootstrap_Failure(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	u := New(&out, &errOut)

	u.Bootstrap(&orchestrator.BootstrapResult{
		Status: orchestrator.StatusError,
		Phases: []orchestrator.PhaseResult{
			{Name: orchestrator.PhaseProvision, Status: orchestrator.StatusOK, DurationMs: 812},
			{Name: orchestrator.PhaseReadiness, Status: orchestrator.StatusError, Error: "postgres not ready after 30 attempts"},
			{Name: orchestrator.PhaseMigrate, Status: orchestrator.StatusSkipped},
		},
		Readiness: map[string]orchestrator.Readiness{
			"redis":    {Service: "redis", State: orchestrator.StateReady, Attempts: 1},
			"postgres": {Service: "postgres", State: orchestrator.StateExhausted, Attempts: 30},
		},
		Error: "readiness: postgres not ready after 30 attempts",
	})

	assert.Contains(t, out.String(), "provision")
	assert.Contains(t, out.String(), "812ms")
	assert.Contains(t, out.String(), "migrate skipped")
	assert.Contains(t, out.String(), "exhausted")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("postgres")), bytes.Index(out.Bytes(), []byte("redis")))
	assert.Contains(t, errOut.String(), "postgres not ready after 30 attempts")
	assert.Contains(t, errOut.String(), "environment not ready")
}

func TestBootstrap_Success(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	New(&out, &errOut).Bootstrap(&orchestrator.BootstrapResult{
		Status: orchestrator.StatusOK,
		Smoke: &orchestrator.SmokeReport{Checks: []orchestrator.CheckResult{
			{Name: "health", OK: true},
			{Name: "register", OK: true},
		}},
	})

	assert.Contains(t, out.String(), "smoke register")
	assert.Contains(t, out.String(), "environment ready")
	assert.Empty(t, errOut.String())
}

func TestProbes(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	New(&out, &errOut).Probes(map[string]orchestrator.ProbeResult{
		"redis":    {Name: "redis", OK: true, LatencyMs: 2},
		"postgres": {Name: "postgres", OK: false, Error: "circuit open"},
	})

	assert.Contains(t, out.String(), "redis up (2ms)")
	assert.Contains(t, errOut.String(), "postgres down: circuit open")
}

func TestPadRight(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ab  ", padRight("ab", 4))
	assert.Equal(t, "abcdef", padRight("abcdef", 4))
}
