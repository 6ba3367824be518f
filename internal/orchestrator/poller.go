package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// Prober performs a single readiness check. Implementations must not retry
// internally; the Poller owns the attempt budget.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) ProbeResult

func (f ProberFunc) Probe(ctx context.Context) ProbeResult { return f(ctx) }

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poller runs fixed-interval, attempt-bounded readiness polling. Total wait
// never exceeds MaxAttempts*Interval plus the probes' own latency.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

// NewPoller returns a Poller using the real clock.
func NewPoller(interval time.Duration, maxAttempts int) Poller {
	return Poller{Interval: interval, MaxAttempts: maxAttempts, Sleep: Sleep}
}

// Poll probes until the probe succeeds or MaxAttempts probes have failed.
// The returned Readiness is always terminal. A cancelled context ends the
// poll as exhausted with the context error recorded.
func (p Poller) Poll(ctx context.Context, service string, probe Prober) Readiness {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	r := Readiness{Service: service, State: StatePending}
	for r.Attempts < p.MaxAttempts {
		res := probe.Probe(ctx)
		r.Attempts++
		if res.OK {
			r.State = StateReady
			r.LastError = ""
			slog.InfoContext(ctx, "service ready", "service", service, "attempts", r.Attempts, "latency_ms", res.LatencyMs)
			return r
		}
		r.LastError = res.Error
		slog.DebugContext(ctx, "service not ready", "service", service, "attempt", r.Attempts, "max_attempts", p.MaxAttempts, "error", res.Error)

		if err := sleep(ctx, p.Interval); err != nil {
			r.LastError = err.Error()
			break
		}
	}

	r.State = StateExhausted
	slog.WarnContext(ctx, "service readiness exhausted", "service", service, "attempts", r.Attempts, "error", r.LastError)
	return r
}
