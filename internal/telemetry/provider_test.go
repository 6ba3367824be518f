package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitProvider_UnreachableCollector(t *testing.T) {
	// The gRPC dial is non-blocking, so setup succeeds with the collector down.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := InitProvider(ctx, "localhost:19999", "studysprint-devenv-test", "test", true)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Enabled())

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()
	assert.NoError(t, p.Shutdown(shutCtx))
}

func TestInitProvider_DisabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	p, err := InitProvider(context.Background(), "", "studysprint-devenv-test", "test", true)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_ShutdownIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	p, err := InitProvider(ctx, "localhost:19998", "studysprint-devenv-test", "test", true)
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(ctx))
	assert.NoError(t, p.Shutdown(ctx), "closers run once")
}
