//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/oppwatch/eyp-scraper/internal/testutil"
	"github.com/oppwatch/eyp-scraper/pkg/cache"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// TestPipelineWithRedisCache verifies that a second run served from the
// detail cache skips the portal's detail endpoints.
func TestPipelineWithRedisCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	portal := testutil.NewMockPortal()
	defer portal.Close()

	portal.AddOpportunity("90001", "Community garden", nil)
	portal.AddOpportunity("90002", "Coastal cleanup", nil)

	cacheManager := cache.NewManager(redisClient, time.Minute)
	store := openStore(t)
	ctx := context.Background()

	first := newPipeline(t, portal, store, cacheManager, 2)
	if _, err := first.RunFullPipeline(ctx); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	requestsAfterFirst := portal.RequestCount()

	second := newPipeline(t, portal, store, cacheManager, 2)
	if _, err := second.RunFullPipeline(ctx); err != nil {
		t.Fatalf("second run error = %v", err)
	}

	// The second run still pages the listing (2 records at page size 2
	// means two listing requests) but fetches no detail pages.
	detailRequests := portal.RequestCount() - requestsAfterFirst - 2
	if detailRequests != 0 {
		t.Errorf("second run made %d detail requests, want 0 (cache hits)", detailRequests)
	}
}
