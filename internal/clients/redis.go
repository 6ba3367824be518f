package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"studysprint/devenv/internal/orchestrator"
)

// redisPinger is the part of a Redis connection the probe needs.
type redisPinger interface {
	PingResult(ctx context.Context) (string, error)
	Close() error
}

// goRedis adapts *redis.Client, whose Ping returns a *redis.StatusCmd.
type goRedis struct {
	*redis.Client
}

func (r goRedis) PingResult(ctx context.Context) (string, error) {
	return r.Ping(ctx).Result()
}

// dialRedis opens a single-use client. Retries are disabled; the Poller owns
// the attempt budget.
func dialRedis(h orchestrator.ServiceHandle) redisPinger {
	return goRedis{redis.NewClient(&redis.Options{
		Addr:        h.Addr(),
		Password:    h.Password,
		DB:          h.DB,
		DialTimeout: 2 * time.Second,
		MaxRetries:  -1,
	})}
}

// RedisClient probes a provisioned Redis service through a circuit breaker.
type RedisClient struct {
	handle orchestrator.ServiceHandle
	cb     *gobreaker.CircuitBreaker
	dial   func(h orchestrator.ServiceHandle) redisPinger
}

// NewRedisClient creates a RedisClient. A connection is opened per Probe and
// closed afterwards.
func NewRedisClient(h orchestrator.ServiceHandle, cb *gobreaker.CircuitBreaker) *RedisClient {
	return &RedisClient{handle: h, cb: cb, dial: dialRedis}
}

// Probe sends PING and expects PONG, the same check as `redis-cli ping`.
func (c *RedisClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		conn := c.dial(c.handle)
		defer conn.Close() //nolint:errcheck

		switch val, err := conn.PingResult(ctx); {
		case err != nil:
			return nil, fmt.Errorf("ping: %w", err)
		case val != "PONG":
			return nil, fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil, nil
	})

	return probeResult(c.handle.Name, start, err)
}
