package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "studysprint-devenv"

// EnvMaterializer is satisfied by *envfile.Materializer.
type EnvMaterializer interface {
	Materialize(ctx context.Context) (*EnvReport, error)
}

// DependencyInstaller is satisfied by *pyenv.Installer.
type DependencyInstaller interface {
	Install(ctx context.Context) error
}

// ServiceProvisioner is satisfied by *provision.Compose and *provision.Containers.
type ServiceProvisioner interface {
	Provision(ctx context.Context, specs []ServiceSpec) ([]ServiceHandle, error)
}

// SchemaMigrator is satisfied by *migrate.Alembic and *migrate.SQL. Generate
// may return ErrStepSkipped when the driver has nothing to generate.
type SchemaMigrator interface {
	Generate(ctx context.Context, db ServiceHandle) error
	Apply(ctx context.Context, db ServiceHandle) error
}

// SmokeTester is satisfied by *smoke.Tester. The report is returned even when
// the error is non-nil.
type SmokeTester interface {
	Run(ctx context.Context, handles []ServiceHandle) (*SmokeReport, error)
}

// Preflighter is implemented by components with preconditions that must hold
// before any side effect.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// ProberFactory builds the readiness probe for a provisioned service.
type ProberFactory func(h ServiceHandle) Prober

// ServiceResolver turns the materialized environment into the services to
// provision. env is nil when no bootstrap has run yet.
type ServiceResolver func(env *EnvReport) ([]ServiceSpec, error)

// Components are the stage implementations, in execution order.
type Components struct {
	Env         EnvMaterializer
	Installer   DependencyInstaller
	Services    ServiceResolver
	Provisioner ServiceProvisioner
	Probes      ProberFactory
	Migrator    SchemaMigrator
	Smoke       SmokeTester
}

// Options tune a bootstrap run.
type Options struct {
	Poller      Poller
	Parallel    bool
	SkipInstall bool
	SkipSmoke   bool
}

// Orchestrator runs the bootstrap sequence and health probes.
type Orchestrator struct {
	c    Components
	opts Options

	phaseDuration metric.Float64Histogram

	bootstrapInProgress atomic.Bool
	lastResult          *BootstrapResult
	handles             []ServiceHandle
	resultMu            sync.RWMutex
}

// New constructs an Orchestrator. Every component must be non-nil.
func New(c Components, opts Options) *Orchestrator {
	o := &Orchestrator{c: c, opts: opts}

	h, err := otel.Meter(instrumentationName).Float64Histogram(
		"devenv.phase.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of each bootstrap phase"),
	)
	if err == nil {
		o.phaseDuration = h
	}
	return o
}

// RunBootstrap runs preflight and every stage in order, halting at the first
// failure. The result is always returned when a run took place; the error is
// the failing stage's *StageError. Returns ErrBootstrapInProgress if a
// bootstrap is already running.
func (o *Orchestrator) RunBootstrap(ctx context.Context) (*BootstrapResult, error) {
	if !o.bootstrapInProgress.CompareAndSwap(false, true) {
		return nil, ErrBootstrapInProgress
	}
	defer o.bootstrapInProgress.Store(false)

	result := &BootstrapResult{
		Status:    StatusInProgress,
		Readiness: make(map[string]Readiness),
		StartedAt: time.Now().UTC(),
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "devenv.bootstrap")
	defer span.End()

	slog.InfoContext(ctx, "bootstrap started")

	err := o.run(ctx, result)

	result.Lock()
	result.EndedAt = time.Now().UTC()
	for _, name := range Phases {
		if _, ok := result.Phase(name); !ok {
			result.Phases = append(result.Phases, PhaseResult{Name: name, Status: StatusSkipped})
		}
	}
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
	} else {
		result.Status = StatusOK
	}
	result.Unlock()

	span.SetAttributes(attribute.String("bootstrap.status", result.Status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bootstrap failed")
		slog.ErrorContext(ctx, "bootstrap failed", "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "bootstrap completed", "status", result.Status)
	}

	o.resultMu.Lock()
	o.lastResult = result
	o.resultMu.Unlock()

	return result, err
}

func (o *Orchestrator) run(ctx context.Context, result *BootstrapResult) error {
	if err := o.phase(ctx, result, PhasePreflight, o.preflight); err != nil {
		return err
	}

	var specs []ServiceSpec
	err := o.phase(ctx, result, PhaseEnvironment, func(ctx context.Context) error {
		report, err := o.c.Env.Materialize(ctx)
		if err != nil {
			return stageError(PhaseEnvironment, KindEnvironment, "", err)
		}
		specs, err = o.c.Services(report)
		if err != nil {
			return stageError(PhaseEnvironment, KindEnvironment, report.Path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = o.phase(ctx, result, PhaseDependencies, func(ctx context.Context) error {
		if o.opts.SkipInstall {
			return ErrStepSkipped
		}
		if err := o.c.Installer.Install(ctx); err != nil {
			return stageError(PhaseDependencies, KindInstall, "", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var handles []ServiceHandle
	err = o.phase(ctx, result, PhaseProvision, func(ctx context.Context) error {
		var err error
		handles, err = o.c.Provisioner.Provision(ctx, specs)
		if err != nil {
			return stageError(PhaseProvision, KindProvisioning, "", err)
		}
		result.Lock()
		result.Services = handles
		result.Unlock()

		o.resultMu.Lock()
		o.handles = handles
		o.resultMu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	err = o.phase(ctx, result, PhaseReadiness, func(ctx context.Context) error {
		return o.awaitReady(ctx, result, handles)
	})
	if err != nil {
		return err
	}

	err = o.phase(ctx, result, PhaseMigrate, func(ctx context.Context) error {
		db, ok := FindHandle(handles, KindPostgres)
		if !ok {
			return &StageError{Stage: PhaseMigrate, Kind: KindMigration, Err: errors.New("no postgres service provisioned")}
		}
		if err := o.c.Migrator.Generate(ctx, db); err != nil {
			if !errors.Is(err, ErrStepSkipped) {
				return stageError(PhaseMigrate, KindMigration, "generate", err)
			}
			slog.InfoContext(ctx, "migration generation skipped", "service", db.Name)
		}
		if err := o.c.Migrator.Apply(ctx, db); err != nil {
			return stageError(PhaseMigrate, KindMigration, "apply", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return o.phase(ctx, result, PhaseSmoke, func(ctx context.Context) error {
		if o.opts.SkipSmoke {
			return ErrStepSkipped
		}
		report, err := o.c.Smoke.Run(ctx, handles)
		result.Lock()
		result.Smoke = report
		result.Unlock()
		if err != nil {
			return stageError(PhaseSmoke, KindSmoke, "", err)
		}
		return nil
	})
}

// preflight checks every component's preconditions before any side effect.
func (o *Orchestrator) preflight(ctx context.Context) error {
	var checks []any
	if !o.opts.SkipInstall {
		checks = append(checks, o.c.Installer)
	}
	checks = append(checks, o.c.Env, o.c.Provisioner, o.c.Migrator)
	if !o.opts.SkipSmoke {
		checks = append(checks, o.c.Smoke)
	}

	for _, c := range checks {
		p, ok := c.(Preflighter)
		if !ok {
			continue
		}
		if err := p.Preflight(ctx); err != nil {
			return stageError(PhasePreflight, KindPrecondition, "", err)
		}
	}
	return nil
}

// awaitReady polls every handle until ready. Each service has its own
// attempt counter; the first exhausted service fails the phase.
func (o *Orchestrator) awaitReady(ctx context.Context, result *BootstrapResult, handles []ServiceHandle) error {
	poll := func(ctx context.Context, h ServiceHandle) error {
		r := o.opts.Poller.Poll(ctx, h.Name, o.c.Probes(h))
		result.Lock()
		result.Readiness[h.Name] = r
		result.Unlock()

		if r.State == StateReady {
			return nil
		}
		se := &StageError{Stage: PhaseReadiness, Kind: KindExhausted, Resource: h.Name, Attempts: r.Attempts}
		if r.LastError != "" {
			se.Err = errors.New(r.LastError)
		}
		return se
	}

	if !o.opts.Parallel {
		for _, h := range handles {
			if err := poll(ctx, h); err != nil {
				return err
			}
		}
		return nil
	}

	// The first exhausted service cancels its siblings; all must be ready.
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error { return poll(gctx, h) })
	}
	return g.Wait()
}

// phase runs fn as one traced, logged and recorded bootstrap phase.
func (o *Orchestrator) phase(ctx context.Context, result *BootstrapResult, name string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "devenv."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	p := PhaseResult{Name: name, Status: StatusOK, DurationMs: elapsed.Milliseconds()}
	switch {
	case err == nil:
	case errors.Is(err, ErrStepSkipped):
		p.Status = StatusSkipped
		err = nil
	default:
		p.Status = StatusError
		p.Error = err.Error()
	}

	result.Lock()
	result.Phases = append(result.Phases, p)
	result.Unlock()

	logPhase(ctx, p)

	span.SetAttributes(attribute.String("phase.status", p.Status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, p.Error)
	}
	if o.phaseDuration != nil {
		o.phaseDuration.Record(ctx, float64(elapsed.Milliseconds()),
			metric.WithAttributes(attribute.String("phase", name), attribute.String("status", p.Status)))
	}
	return err
}

// RunDeepHealth probes every known service once, concurrently. Before the
// first provisioning the configured services are probed at their configured
// addresses; a failure to resolve them is reported as a failed
// "environment" entry.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	handles := o.Handles()
	results := make(map[string]ProbeResult, len(handles)+1)
	if len(handles) == 0 {
		specs, err := o.c.Services(nil)
		if err != nil {
			slog.WarnContext(ctx, "resolving services for health check", "error", err)
			results[PhaseEnvironment] = ProbeResult{Name: PhaseEnvironment, OK: false, Error: err.Error()}
		}
		for _, s := range specs {
			handles = append(handles, NewServiceHandle(s, s.Service, nil))
		}
	}

	var mu sync.Mutex
	var g errgroup.Group

	for _, h := range handles {
		g.Go(func() error {
			probe := o.c.Probes(h).Probe(ctx)
			mu.Lock()
			results[h.Name] = probe
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Handles returns the services provisioned by the last bootstrap.
func (o *Orchestrator) Handles() []ServiceHandle {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return append([]ServiceHandle(nil), o.handles...)
}

// LastResult returns the most recent bootstrap result, or nil.
func (o *Orchestrator) LastResult() *BootstrapResult {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult
}

// IsBootstrapInProgress returns true while a bootstrap run is active.
func (o *Orchestrator) IsBootstrapInProgress() bool {
	return o.bootstrapInProgress.Load()
}

// IsReady returns true if the last bootstrap completed with StatusOK.
func (o *Orchestrator) IsReady() bool {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult != nil && o.lastResult.Status == StatusOK
}

// logPhase emits a trace-correlated status line for a bootstrap phase.
func logPhase(ctx context.Context, p PhaseResult) {
	switch p.Status {
	case StatusOK:
		slog.InfoContext(ctx, "bootstrap phase ok", "phase", p.Name, "duration_ms", p.DurationMs)
	case StatusSkipped:
		slog.InfoContext(ctx, "bootstrap phase skipped", "phase", p.Name)
	default:
		slog.ErrorContext(ctx, "bootstrap phase failed", "phase", p.Name, "error", p.Error)
	}
}
