//go:build integration

package pagination_test

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/marketplace-search/internal/testutil"
	"github.com/Sternrassler/marketplace-search/pkg/cache"
	"github.com/Sternrassler/marketplace-search/pkg/client"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/pagination"
	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/Sternrassler/marketplace-search/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "start Redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err, "get Redis endpoint")

	redisClient := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, redisClient.Ping(ctx).Err(), "connect to Redis")

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})
	return redisClient
}

func newEngine(t *testing.T, searcher fetcher.Searcher) *pagination.Engine {
	t.Helper()

	retry := fetcher.DefaultRetryConfig()
	retry.InitialBackoff = time.Millisecond
	retry.MaxBackoff = 5 * time.Millisecond

	cfg := pagination.DefaultConfig()
	cfg.VirtualLatency = 0

	e := pagination.NewEngine(
		cache.NewStore(cache.WithLogger(zerolog.Nop())),
		fetcher.New(searcher, fetcher.WithRetryConfig(retry), fetcher.WithLogger(zerolog.Nop())),
		cfg,
		pagination.WithLogger(zerolog.Nop()),
	)
	t.Cleanup(e.Close)
	return e
}

func newClient(t *testing.T, api *testutil.MockSearchAPI) *client.Client {
	t.Helper()
	c, err := client.New(client.DefaultConfig(api.URL(), "marketplace-search-it/1.0"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIntegration_RemoteScrollsBackend(t *testing.T) {
	api := testutil.NewMockSearchAPI()
	defer api.Close()
	api.SetDataset(client.ProductSearch.Path, 45)

	e := newEngine(t, newClient(t, api).Searcher(client.ProductSearch))
	ctx := context.Background()

	r := e.Remote(search.Descriptor{Keyword: "oolong", PageSize: 20})
	defer r.Close()

	state := r.Load(ctx)
	require.NoError(t, state.Err)
	for state.HasNextPage {
		state = r.LoadNextPage(ctx)
		require.NoError(t, state.Err)
	}

	assert.Equal(t, []int{1, 2, 3}, state.PageParams)
	assert.Len(t, state.Rows(), 45)
	assert.Equal(t, 3, api.GetPathCount(client.ProductSearch.Path))

	// A second handle on the same query is served from the store.
	other := e.Remote(search.Descriptor{Keyword: "oolong", PageSize: 20})
	defer other.Close()
	assert.Len(t, other.Load(ctx).Rows(), 45)
	assert.Equal(t, 3, api.GetPathCount(client.ProductSearch.Path))
}

func TestIntegration_ImageSnapshotSurvivesEngine(t *testing.T) {
	redisClient := setupRedis(t)
	storage := session.NewRedisStorage(redisClient, "it:session:")

	api := testutil.NewMockSearchAPI()
	defer api.Close()
	api.SetDataset(client.ImageSearch.Path, 30)

	c := newClient(t, api)
	ctx := context.Background()
	d := search.Descriptor{Filters: map[string]any{"imageUrl": "https://img.example.com/a.png"}, PageSize: 10}

	seeder := newEngine(t, c.Searcher(client.ImageSearch))
	snap, err := seeder.SeedImageSearch(ctx, storage, "img-1", d)
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 10)
	assert.Equal(t, 30, snap.DeclaredTotal())

	// A fresh engine re-paginates from the persisted snapshot.
	e := newEngine(t, c.Searcher(client.ImageSearch))
	v := e.Virtual(storage, "img-1", d)
	defer v.Close()

	state := v.Activate(ctx)
	require.NoError(t, state.Err)
	assert.Equal(t, []int{1}, state.PageParams)
	assert.Equal(t, 1, api.GetPathCount(client.ImageSearch.Path))

	for state.HasNextPage {
		state = v.LoadNextPage(ctx)
		require.NoError(t, state.Err)
	}

	assert.Equal(t, []int{1, 2, 3}, state.PageParams)
	assert.Len(t, state.Rows(), 30)

	// Pages 2 and 3 were not in the snapshot and came from the backend.
	assert.Equal(t, 3, api.GetPathCount(client.ImageSearch.Path))

	persisted, err := session.LoadSnapshot(ctx, storage, "img-1")
	require.NoError(t, err)
	assert.Len(t, persisted.Rows, 30)
}
