// Package stats provides Redis-backed per-source archive activity counters.
//
// Designed for multiple archiver instances writing concurrently. Counters
// are read by the HTTP surface and the CLI; losing them never affects
// archive outcomes.
//
// Redis key structure:
//
//	archive:stats:{source}               - Hash with totals and last-write info
//	archive:hourly:{source}:{YYYYMMDDHH} - Archived count for the hour (expires 48h)
//	archive:daily:{source}:{YYYYMMDD}    - Archived count for the day (expires 7d)
//	archive:instances:{source}           - Hash of archiver instance -> last seen
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stats represents archive activity for one source.
type Stats struct {
	Source           string            `json:"source"`
	LastArchivedAt   *time.Time        `json:"last_archived_at,omitempty"`
	LastPath         string            `json:"last_path,omitempty"`
	TotalArchived    int64             `json:"total_archived"`
	TotalSkipped     int64             `json:"total_skipped"`
	TotalFailed      int64             `json:"total_failed"`
	ArchivedLastHour int64             `json:"archived_last_hour"`
	ArchivedLast24h  int64             `json:"archived_last_24h"`
	Instances        map[string]string `json:"instances,omitempty"`
	RetrievedAt      time.Time         `json:"retrieved_at"`
}

// Client records and retrieves per-source archive statistics.
type Client struct {
	redis      *redis.Client
	instanceID string
}

// NewClient connects to Redis and verifies the connection. instanceID
// should be unique per archiver instance (hostname, pod name, UUID).
func NewClient(redisURL, instanceID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Client{redis: client, instanceID: instanceID}, nil
}

// NewClientFromRedis creates a client from an existing Redis connection.
func NewClientFromRedis(client *redis.Client, instanceID string) *Client {
	return &Client{redis: client, instanceID: instanceID}
}

// BatchUpdate holds accumulated counters for one source.
type BatchUpdate struct {
	Source   string
	Archived int64
	Skipped  int64
	Failed   int64
	LastPath string
}

// NewBatchUpdate creates an accumulator for a source.
func NewBatchUpdate(source string) *BatchUpdate {
	return &BatchUpdate{Source: source}
}

// Add accumulates outcome counts into the batch.
func (b *BatchUpdate) Add(archived, skipped, failed int64, lastPath string) {
	b.Archived += archived
	b.Skipped += skipped
	b.Failed += failed
	if lastPath != "" {
		b.LastPath = lastPath
	}
}

func (b *BatchUpdate) empty() bool {
	return b.Archived == 0 && b.Skipped == 0 && b.Failed == 0
}

// FlushBatch writes accumulated counters to Redis in one pipeline. Call
// periodically rather than per batch.
func (c *Client) FlushBatch(ctx context.Context, batch *BatchUpdate) error {
	if batch.empty() {
		return nil
	}

	now := time.Now()
	hourKey := now.Format("2006010215")
	dayKey := now.Format("20060102")
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	pipe := c.redis.Pipeline()

	statsKey := fmt.Sprintf("archive:stats:%s", batch.Source)
	if batch.Archived > 0 {
		pipe.HSet(ctx, statsKey, map[string]any{
			"last_archived_at": nowUnix,
			"last_path":        batch.LastPath,
		})
		pipe.HIncrBy(ctx, statsKey, "total_archived", batch.Archived)
	}
	if batch.Skipped > 0 {
		pipe.HIncrBy(ctx, statsKey, "total_skipped", batch.Skipped)
	}
	if batch.Failed > 0 {
		pipe.HIncrBy(ctx, statsKey, "total_failed", batch.Failed)
	}

	if batch.Archived > 0 {
		hourlyKey := fmt.Sprintf("archive:hourly:%s:%s", batch.Source, hourKey)
		pipe.IncrBy(ctx, hourlyKey, batch.Archived)
		pipe.Expire(ctx, hourlyKey, 48*time.Hour)

		dailyKey := fmt.Sprintf("archive:daily:%s:%s", batch.Source, dayKey)
		pipe.IncrBy(ctx, dailyKey, batch.Archived)
		pipe.Expire(ctx, dailyKey, 7*24*time.Hour)
	}

	instancesKey := fmt.Sprintf("archive:instances:%s", batch.Source)
	pipe.HSet(ctx, instancesKey, c.instanceID, nowUnix)
	pipe.Expire(ctx, instancesKey, 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flush stats batch: %w", err)
	}
	return nil
}

// GetStats retrieves current statistics for a source.
func (c *Client) GetStats(ctx context.Context, source string) (*Stats, error) {
	now := time.Now()

	hourlyKeys := make([]string, 24)
	for i := 0; i < 24; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		hourlyKeys[i] = fmt.Sprintf("archive:hourly:%s:%s", source, t.Format("2006010215"))
	}

	pipe := c.redis.Pipeline()

	statsCmd := pipe.HGetAll(ctx, fmt.Sprintf("archive:stats:%s", source))
	currentHourCmd := pipe.Get(ctx, hourlyKeys[0])
	hourlyCmds := make([]*redis.StringCmd, len(hourlyKeys))
	for i, key := range hourlyKeys {
		hourlyCmds[i] = pipe.Get(ctx, key)
	}
	instancesCmd := pipe.HGetAll(ctx, fmt.Sprintf("archive:instances:%s", source))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	stats := &Stats{
		Source:      source,
		RetrievedAt: now,
		Instances:   make(map[string]string),
	}

	if statsMap, err := statsCmd.Result(); err == nil {
		if lastStr, ok := statsMap["last_archived_at"]; ok {
			if unix, err := strconv.ParseInt(lastStr, 10, 64); err == nil {
				t := time.Unix(unix, 0)
				stats.LastArchivedAt = &t
			}
		}
		stats.LastPath = statsMap["last_path"]
		if totalStr, ok := statsMap["total_archived"]; ok {
			stats.TotalArchived, _ = strconv.ParseInt(totalStr, 10, 64)
		}
		if totalStr, ok := statsMap["total_skipped"]; ok {
			stats.TotalSkipped, _ = strconv.ParseInt(totalStr, 10, 64)
		}
		if totalStr, ok := statsMap["total_failed"]; ok {
			stats.TotalFailed, _ = strconv.ParseInt(totalStr, 10, 64)
		}
	}

	if val, err := currentHourCmd.Int64(); err == nil {
		stats.ArchivedLastHour = val
	}
	for _, cmd := range hourlyCmds {
		if val, err := cmd.Int64(); err == nil {
			stats.ArchivedLast24h += val
		}
	}
	if instances, err := instancesCmd.Result(); err == nil {
		for instance, lastSeen := range instances {
			if unix, err := strconv.ParseInt(lastSeen, 10, 64); err == nil {
				stats.Instances[instance] = time.Unix(unix, 0).Format(time.RFC3339)
			}
		}
	}

	return stats, nil
}

// ListActiveSources returns sources with archive activity in the last
// duration.
func (c *Client) ListActiveSources(ctx context.Context, since time.Duration) ([]string, error) {
	var sources []string
	cutoff := time.Now().Add(-since).Unix()

	iter := c.redis.Scan(ctx, 0, "archive:stats:*", 1000).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		const prefix = "archive:stats:"
		if len(key) <= len(prefix) {
			continue
		}
		source := key[len(prefix):]

		lastUsed, err := c.redis.HGet(ctx, key, "last_archived_at").Int64()
		if err == nil && lastUsed >= cutoff {
			sources = append(sources, source)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}
	return sources, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}
