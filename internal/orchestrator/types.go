package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Status values used across BootstrapResult and PhaseResult.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusInProgress = "in-progress"
	StatusSkipped    = "skipped"
)

// Phase names, in execution order.
const (
	PhasePreflight    = "preflight"
	PhaseEnvironment  = "environment"
	PhaseDependencies = "dependencies"
	PhaseProvision    = "provision"
	PhaseReadiness    = "readiness"
	PhaseMigrate      = "migrate"
	PhaseSmoke        = "smoke"
)

// Phases lists every phase in the order RunBootstrap executes them.
var Phases = []string{
	PhasePreflight,
	PhaseEnvironment,
	PhaseDependencies,
	PhaseProvision,
	PhaseReadiness,
	PhaseMigrate,
	PhaseSmoke,
}

// Service kinds understood by the provisioners and probes.
const (
	KindPostgres = "postgres"
	KindRedis    = "redis"
)

// ServiceSpec describes a backing service to provision.
type ServiceSpec struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Image    string `json:"image,omitempty"`
	Service  string `json:"service,omitempty"` // compose service name
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user,omitempty"`
	Password string `json:"-"`
	Database string `json:"database,omitempty"`
	DB       int    `json:"db,omitempty"` // redis logical database
}

// ServiceHandle identifies a provisioned background service. Host and Port
// are where the service is reachable, which may differ from the ServiceSpec
// when a driver maps ports dynamically.
type ServiceHandle struct {
	ServiceSpec
	Ref  string `json:"ref"` // container id or compose service
	stop func(ctx context.Context) error
}

// NewServiceHandle builds a handle. stop may be nil for services that are not
// stopped by this process.
func NewServiceHandle(spec ServiceSpec, ref string, stop func(ctx context.Context) error) ServiceHandle {
	return ServiceHandle{ServiceSpec: spec, Ref: ref, stop: stop}
}

// Addr returns host:port.
func (h ServiceHandle) Addr() string {
	return h.Host + ":" + strconv.Itoa(h.Port)
}

// Stop releases the service. Handles without a stop function are a no-op.
func (h ServiceHandle) Stop(ctx context.Context) error {
	if h.stop == nil {
		return nil
	}
	return h.stop(ctx)
}

// ConnectionEnv renders the application variables that point at handles.
func ConnectionEnv(handles []ServiceHandle) []string {
	var env []string
	for _, h := range handles {
		switch h.Kind {
		case KindPostgres:
			env = append(env,
				"DATABASE_HOST="+h.Host,
				"DATABASE_PORT="+strconv.Itoa(h.Port),
				"DATABASE_USER="+h.User,
				"DATABASE_PASSWORD="+h.Password,
				"DATABASE_NAME="+h.Database,
			)
		case KindRedis:
			env = append(env,
				"REDIS_HOST="+h.Host,
				"REDIS_PORT="+strconv.Itoa(h.Port),
				"REDIS_PASSWORD="+h.Password,
				"REDIS_DB="+strconv.Itoa(h.DB),
			)
		}
	}
	return env
}

// FindHandle returns the first handle of the given kind.
func FindHandle(handles []ServiceHandle, kind string) (ServiceHandle, bool) {
	for _, h := range handles {
		if h.Kind == kind {
			return h, true
		}
	}
	return ServiceHandle{}, false
}

// ProbeResult is the outcome of a single readiness check.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// ReadinessState is the state of one service's polling loop.
type ReadinessState string

const (
	StatePending   ReadinessState = "pending"
	StateReady     ReadinessState = "ready"
	StateExhausted ReadinessState = "exhausted"
)

// Readiness is the result of polling one service until it is ready or the
// attempt budget runs out.
type Readiness struct {
	Service   string         `json:"service"`
	State     ReadinessState `json:"state"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"lastError,omitempty"`
}

// Terminal reports whether the poll has finished.
func (r Readiness) Terminal() bool {
	return r.State == StateReady || r.State == StateExhausted
}

// CheckResult is one smoke-test check.
type CheckResult struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SmokeReport collects every smoke-test check in the order they ran.
type SmokeReport struct {
	Checks []CheckResult `json:"checks"`
}

// Failed returns the checks that did not pass.
func (r *SmokeReport) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// EnvReport is what the environment materializer did.
type EnvReport struct {
	Path    string            `json:"path"`
	Created bool              `json:"created"`
	Dirs    []string          `json:"dirs"`
	Vars    map[string]string `json:"-"`
}

// BootstrapResult is the aggregate result of a full bootstrap run.
// sync.Mutex is embedded because readiness polls may write concurrently.
// Callers must hold the mutex before marshalling while a run is active.
type BootstrapResult struct {
	sync.Mutex
	Status    string               `json:"status"` // "ok", "error", "in-progress"
	Phases    []PhaseResult        `json:"phases"`
	Services  []ServiceHandle      `json:"services,omitempty"`
	Readiness map[string]Readiness `json:"readiness,omitempty"`
	Smoke     *SmokeReport         `json:"smoke,omitempty"`
	StartedAt time.Time            `json:"startedAt"`
	EndedAt   time.Time            `json:"endedAt"`
	Error     string               `json:"error,omitempty"`
}

// Phase returns the recorded result for name.
func (r *BootstrapResult) Phase(name string) (PhaseResult, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}

// PhaseResult represents the outcome of a single bootstrap phase.
type PhaseResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"` // "ok", "error", "skipped"
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}
