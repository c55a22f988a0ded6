package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/corkboard/server/internal/domain/similarity"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port("6379/tcp"))
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestSimilarityCacheRoundTripAndInvalidate(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, startRedis(t))
	require.NoError(t, err)
	defer client.Close()

	c := NewSimilarityCache(client, time.Minute)
	require.NoError(t, c.Ping(ctx))
	const user = "6f1c3b4e-8d2a-4f5b-9c1d-2e3f4a5b6c7d"

	_, ok, err := c.Get(ctx, user, 10, 0.6)
	require.NoError(t, err)
	require.False(t, ok)

	want := &similarity.Result{
		SimilarWines:       []similarity.SimilarWine{{WineID: "w1", WineName: "Reserve", Similarity: 0.8, SourceWineID: "s1"}},
		RecommendationType: similarity.TypePersonalized,
		BasedOnCount:       2,
	}
	require.NoError(t, c.Set(ctx, user, 10, 0.6, want))
	require.NoError(t, c.Set(ctx, user, 5, 0.6, want))

	got, ok, err := c.Get(ctx, user, 10, 0.6)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	_, ok, err = c.Get(ctx, user, 10, 0.7)
	require.NoError(t, err)
	require.False(t, ok, "threshold is part of the key")

	ttl, err := client.TTL(ctx, userKey(user)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.InvalidateUser(ctx, user))
	_, ok, err = c.Get(ctx, user, 5, 0.6)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not a url")
	require.Error(t, err)
}
