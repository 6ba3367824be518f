package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"studysprint/devenv/internal/orchestrator"
)

// orchestratorService is the subset of *orchestrator.Orchestrator used by the
// HTTP handlers. Declaring it as an interface allows test doubles to be injected.
type orchestratorService interface {
	RunBootstrap(ctx context.Context) (*orchestrator.BootstrapResult, error)
	RunDeepHealth(ctx context.Context) map[string]orchestrator.ProbeResult
	LastResult() *orchestrator.BootstrapResult
	IsReady() bool
	IsBootstrapInProgress() bool
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	orchestrator     orchestratorService
	bootstrapTimeout time.Duration
}

// Bootstrap handles POST /api/v1/bootstrap.
// It returns 202 immediately when a new bootstrap run is started, or 409 if one
// is already in progress. The actual bootstrap work runs in a background goroutine.
func (h *Handler) Bootstrap(c *gin.Context) {
	if h.orchestrator.IsBootstrapInProgress() {
		c.JSON(http.StatusConflict, gin.H{"status": orchestrator.StatusInProgress})
		return
	}

	// The run outlives the request.
	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if h.bootstrapTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, h.bootstrapTimeout)
		}
		defer cancel()

		if _, err := h.orchestrator.RunBootstrap(runCtx); errors.Is(err, orchestrator.ErrBootstrapInProgress) {
			slog.WarnContext(runCtx, "bootstrap request raced a running bootstrap")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// LastBootstrap handles GET /api/v1/bootstrap.
// It returns the most recent result, 404 before the first run.
func (h *Handler) LastBootstrap(c *gin.Context) {
	r := h.orchestrator.LastResult()
	if r == nil {
		status := "none"
		if h.orchestrator.IsBootstrapInProgress() {
			status = orchestrator.StatusInProgress
		}
		c.JSON(http.StatusNotFound, gin.H{"status": status})
		return
	}
	c.JSON(http.StatusOK, r)
}

// Health handles GET /health.
// It always returns 200; this is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /health/deep.
// It probes every backing service and returns 200 only when every probe is OK.
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.orchestrator.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !allOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 only after a successful bootstrap. A 503 carries the last
// run's status and the phase that stopped it.
func (h *Handler) Ready(c *gin.Context) {
	if h.orchestrator.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}

	body := gin.H{"ready": false, "status": "none"}
	switch r := h.orchestrator.LastResult(); {
	case h.orchestrator.IsBootstrapInProgress():
		body["status"] = orchestrator.StatusInProgress
	case r != nil:
		body["status"] = r.Status
		if p, ok := failedPhase(r); ok {
			body["failedPhase"] = p
		}
	}
	c.JSON(http.StatusServiceUnavailable, body)
}

func failedPhase(r *orchestrator.BootstrapResult) (string, bool) {
	r.Lock()
	defer r.Unlock()
	for _, p := range r.Phases {
		if p.Status == orchestrator.StatusError {
			return p.Name, true
		}
	}
	return "", false
}
