package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysprint/devenv/internal/orchestrator"
)

// --- Stage stubs that succeed immediately ---

type stubEnv struct{}

func (stubEnv) Materialize(_ context.Context) (*orchestrator.EnvReport, error) {
	return &orchestrator.EnvReport{Path: "backend/.env"}, nil
}

type stubInstaller struct{}

func (stubInstaller) Install(_ context.Context) error { return nil }

type stubProvisioner struct{}

func (stubProvisioner) Provision(_ context.Context, specs []orchestrator.ServiceSpec) ([]orchestrator.ServiceHandle, error) {
	handles := make([]orchestrator.ServiceHandle, 0, len(specs))
	for _, s := range specs {
		handles = append(handles, orchestrator.NewServiceHandle(s, s.Name, nil))
	}
	return handles, nil
}

type stubMigrator struct{}

func (stubMigrator) Generate(_ context.Context, _ orchestrator.ServiceHandle) error { return nil }
func (stubMigrator) Apply(_ context.Context, _ orchestrator.ServiceHandle) error    { return nil }

type stubSmoke struct{}

func (stubSmoke) Run(_ context.Context, _ []orchestrator.ServiceHandle) (*orchestrator.SmokeReport, error) {
	return &orchestrator.SmokeReport{Checks: []orchestrator.CheckResult{{Name: "health", OK: true}}}, nil
}

func stubServices(_ *orchestrator.EnvReport) ([]orchestrator.ServiceSpec, error) {
	return []orchestrator.ServiceSpec{
		{Name: "postgres", Kind: orchestrator.KindPostgres, Host: "localhost", Port: 5432},
		{Name: "redis", Kind: orchestrator.KindRedis, Host: "localhost", Port: 6379},
	}, nil
}

func stubProbes(h orchestrator.ServiceHandle) orchestrator.Prober {
	return orchestrator.ProberFunc(func(_ context.Context) orchestrator.ProbeResult {
		return orchestrator.ProbeResult{Name: h.Name, OK: true, LatencyMs: 1}
	})
}

// --- Integration test ---

// TestBootstrapFlow_202ThenReady verifies the full bootstrap happy-path:
//  1. POST /api/v1/bootstrap → 202 Accepted
//  2. GET /ready eventually → 200 OK once background bootstrap completes
//  3. GET /api/v1/bootstrap returns the completed result
func TestBootstrapFlow_202ThenReady(t *testing.T) {
	t.Parallel()

	o := orchestrator.New(orchestrator.Components{
		Env:         stubEnv{},
		Installer:   stubInstaller{},
		Services:    stubServices,
		Provisioner: stubProvisioner{},
		Probes:      stubProbes,
		Migrator:    stubMigrator{},
		Smoke:       stubSmoke{},
	}, orchestrator.Options{Poller: orchestrator.NewPoller(time.Millisecond, 3)})

	router := NewRouter(o, "studysprint-devenv", time.Minute)
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	client := srv.Client()

	// Step 1: POST /api/v1/bootstrap → 202
	resp, err := client.Post(srv.URL+"/api/v1/bootstrap", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "bootstrap should return 202 Accepted")

	var bootstrapBody map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bootstrapBody))
	assert.Equal(t, "accepted", bootstrapBody["status"])

	// Step 2: poll GET /ready until 200 (bootstrap runs in background goroutine)
	deadline := time.Now().Add(5 * time.Second)
	var lastCode int
	for time.Now().Before(deadline) {
		r, err := client.Get(srv.URL + "/ready")
		require.NoError(t, err)
		r.Body.Close()

		lastCode = r.StatusCode
		if lastCode == http.StatusOK {
			break
		}

		time.Sleep(50 * time.Millisecond)
	}

	assert.Equal(t, http.StatusOK, lastCode, "GET /ready should return 200 after bootstrap completes")

	// Step 3: the recorded result lists every phase in order.
	r, err := client.Get(srv.URL + "/api/v1/bootstrap")
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)

	var result struct {
		Status string `json:"status"`
		Phases []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"phases"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&result))
	assert.Equal(t, orchestrator.StatusOK, result.Status)
	require.Len(t, result.Phases, len(orchestrator.Phases))
	for i, p := range result.Phases {
		assert.Equal(t, orchestrator.Phases[i], p.Name)
		assert.Equal(t, orchestrator.StatusOK, p.Status)
	}

	// Deep health probes the provisioned handles.
	d, err := client.Get(srv.URL + "/health/deep")
	require.NoError(t, err)
	defer d.Body.Close()
	assert.Equal(t, http.StatusOK, d.StatusCode)
}
