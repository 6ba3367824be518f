package clients

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"studysprint/devenv/internal/orchestrator"
)

// Factory builds readiness probes for provisioned services. Each service gets
// one circuit breaker that lives across polls, so consecutive failures of the
// same service accumulate.
type Factory struct {
	sslMode     string
	maxConns    int32
	openTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewFactory returns a Factory. openTimeout should not exceed the poll
// interval so an open breaker costs at most one attempt.
func NewFactory(sslMode string, maxConns int32, openTimeout time.Duration) *Factory {
	return &Factory{
		sslMode:     sslMode,
		maxConns:    maxConns,
		openTimeout: openTimeout,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// ProberFor returns the probe matching the handle's kind. Unknown kinds get a
// probe that always fails.
func (f *Factory) ProberFor(h orchestrator.ServiceHandle) orchestrator.Prober {
	switch h.Kind {
	case orchestrator.KindPostgres:
		return NewPostgresClient(h, f.sslMode, f.maxConns, f.breaker(h.Name))
	case orchestrator.KindRedis:
		return NewRedisClient(h, f.breaker(h.Name))
	default:
		return orchestrator.ProberFunc(func(_ context.Context) orchestrator.ProbeResult {
			return orchestrator.ProbeResult{Name: h.Name, OK: false, Error: "no probe for service kind " + h.Kind}
		})
	}
}

func (f *Factory) breaker(name string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, f.openTimeout)
		f.breakers[name] = cb
	}
	return cb
}
