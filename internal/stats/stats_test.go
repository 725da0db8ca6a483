package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/internal/stats"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *stats.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, stats.NewClientFromRedis(client, "test-instance")
}

func TestClient_FlushBatchAndGetStats(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	batch := stats.NewBatchUpdate("users-prod")
	batch.Add(3, 1, 2, "users-prod/PK=USER%23123.json")
	require.NoError(t, client.FlushBatch(ctx, batch))

	got, err := client.GetStats(ctx, "users-prod")
	require.NoError(t, err)

	assert.Equal(t, "users-prod", got.Source)
	assert.Equal(t, int64(3), got.TotalArchived)
	assert.Equal(t, int64(1), got.TotalSkipped)
	assert.Equal(t, int64(2), got.TotalFailed)
	assert.Equal(t, int64(3), got.ArchivedLastHour)
	assert.Equal(t, int64(3), got.ArchivedLast24h)
	assert.Equal(t, "users-prod/PK=USER%23123.json", got.LastPath)
	require.NotNil(t, got.LastArchivedAt)
	assert.Contains(t, got.Instances, "test-instance")
}

func TestClient_FlushBatchAccumulates(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		batch := stats.NewBatchUpdate("users-prod")
		batch.Add(2, 0, 0, "users-prod/PK=X.json")
		require.NoError(t, client.FlushBatch(ctx, batch))
	}

	got, err := client.GetStats(ctx, "users-prod")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.TotalArchived)
}

func TestClient_EmptyBatchIsNoop(t *testing.T) {
	mr, client := setupTestRedis(t)

	require.NoError(t, client.FlushBatch(context.Background(), stats.NewBatchUpdate("users-prod")))
	assert.Empty(t, mr.Keys())
}

func TestClient_GetStatsUnknownSource(t *testing.T) {
	_, client := setupTestRedis(t)

	got, err := client.GetStats(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Zero(t, got.TotalArchived)
	assert.Nil(t, got.LastArchivedAt)
}

func TestClient_ListActiveSources(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	batch := stats.NewBatchUpdate("users-prod")
	batch.Add(1, 0, 0, "users-prod/PK=X.json")
	require.NoError(t, client.FlushBatch(ctx, batch))

	active, err := client.ListActiveSources(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"users-prod"}, active)
}

func TestCollector_AfterBatchAttributesByPath(t *testing.T) {
	_, client := setupTestRedis(t)
	c := stats.NewCollector(client, time.Hour, nil)
	defer c.Stop()

	outcomes := []model.BatchOutcome{
		{Index: 0, Status: model.StatusArchived, Path: "users-prod/PK=USER%23123.json"},
		{Index: 1, Status: model.StatusArchived, Path: "orders-prod/OK=1.json"},
		{Index: 2, Status: model.StatusSkipped},
		{Index: 3, Status: model.StatusFailed, Reason: model.ReasonTransient},
	}
	c.AfterBatch(context.Background(), "dynamic", outcomes)

	pending := c.Pending()
	assert.Equal(t, int64(1), pending["users-prod"])
	assert.Equal(t, int64(1), pending["orders-prod"])
	assert.Equal(t, int64(0), pending["dynamic"])

	c.FlushNow()
	assert.Empty(t, c.Pending())

	got, err := client.GetStats(context.Background(), "users-prod")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalArchived)

	got, err = client.GetStats(context.Background(), "dynamic")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalSkipped)
	assert.Equal(t, int64(1), got.TotalFailed)
}

func TestCollector_RetainsBatchOnFlushFailure(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := stats.NewCollector(client, time.Hour, nil)
	defer c.Stop()

	c.Record("users-prod", 2, 0, 0, "users-prod/PK=X.json")
	mr.Close()

	c.FlushNow()
	assert.Equal(t, int64(2), c.Pending()["users-prod"])
}
