package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a connected cache.
func setupRedis(t *testing.T) (*RedisCache, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("6379/tcp"),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := NewRedisCache(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0, "test:")
	require.NoError(t, err)

	cleanup := func() {
		c.Close()
		_ = container.Terminate(ctx)
	}
	return c, cleanup
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Expiry(t *testing.T) {
	c, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
	time.Sleep(1500 * time.Millisecond)

	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}
