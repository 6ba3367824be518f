package clients

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// tripAfter is the number of consecutive probe failures that open a breaker.
const tripAfter = 3

// NewCircuitBreaker returns the breaker guarding one service's probes. After
// tripAfter consecutive failures probes fail fast with "circuit open" until
// openTimeout has passed, then a single trial probe is let through. Counts
// are never reset by time while closed.
func NewCircuitBreaker(name string, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	if openTimeout <= 0 {
		// gobreaker reads zero as 60s.
		openTimeout = time.Nanosecond
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Debug("probe breaker state change", "service", name, "from", from.String(), "to", to.String())
		},
	})
}
