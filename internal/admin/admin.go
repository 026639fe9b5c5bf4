// Copyright 2025 James Ross
package admin

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StatsResult summarizes every queue's list/registry sizes in one call.
type StatsResult struct {
	Queues map[string]queue.QueueStats `json:"queues"`
	Failed int64                       `json:"failed"`
	Workers int64                      `json:"workers"`
}

func Stats(ctx context.Context, cfg *config.Config, rdb *redis.Client) (StatsResult, error) {
	res := StatsResult{Queues: map[string]queue.QueueStats{}}
	names, err := queue.Queues(ctx, rdb)
	if err != nil {
		return res, err
	}
	for _, name := range names {
		if name == queue.FailedQueueName {
			continue
		}
		qs, err := queue.QueueStatsFor(ctx, rdb, name)
		if err != nil {
			return res, err
		}
		res.Queues[name] = qs
	}
	failed, err := queue.QueueLength(ctx, rdb, queue.FailedQueueName)
	if err != nil {
		return res, err
	}
	res.Failed = failed
	workers, err := queue.Workers(ctx, rdb)
	if err != nil {
		return res, err
	}
	res.Workers = int64(len(workers))
	return res, nil
}

type PeekResult struct {
	Queue string   `json:"queue"`
	Items []string `json:"items"`
}

// Peek returns up to n job ids waiting at the front of queueName (the next
// ones a worker would dequeue).
func Peek(ctx context.Context, cfg *config.Config, rdb *redis.Client, queueName string, n int64) (PeekResult, error) {
	if n <= 0 {
		n = 10
	}
	items, err := queue.Jobs(ctx, rdb, queueName, 0, n-1)
	if err != nil {
		return PeekResult{}, err
	}
	return PeekResult{Queue: queueName, Items: items}, nil
}

// PurgeFailed deletes every job id in the failure queue, along with their
// job hashes.
func PurgeFailed(ctx context.Context, cfg *config.Config, rdb *redis.Client) (int64, error) {
	return purgeQueue(ctx, rdb, queue.FailedQueueName)
}

func purgeQueue(ctx context.Context, rdb *redis.Client, queueName string) (int64, error) {
	ids, err := queue.Jobs(ctx, rdb, queueName, 0, -1)
	if err != nil {
		return 0, err
	}
	if err := queue.EmptyQueue(ctx, rdb, queueName); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

type BenchResult struct {
	Count      int           `json:"count"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"throughput_jobs_per_sec"`
	P50        time.Duration `json:"p50_latency"`
	P95        time.Duration `json:"p95_latency"`
}

// Bench enqueues count synthetic jobs to queueName, waits for them all to
// reach the finished registry (or timeout), then reports throughput and
// enqueue-to-finish latency percentiles.
func Bench(ctx context.Context, rdb *redis.Client, queueName string, count int, rate int, payloadSize int, timeout time.Duration) (BenchResult, error) {
	res := BenchResult{Count: count}
	if count <= 0 {
		return res, fmt.Errorf("count must be > 0")
	}
	if rate <= 0 {
		rate = 100
	}
	if payloadSize <= 0 {
		payloadSize = 1024
	}

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	start := time.Now()
	ids := make([]string, 0, count)
	enqueuedAt := make(map[string]time.Time, count)
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
		id := uuid.NewString()
		spec := queue.JobSpec{Data: make([]byte, payloadSize)}
		if _, _, err := queue.Enqueue(ctx, rdb, queueName, id, spec, false); err != nil {
			return res, err
		}
		enqueuedAt[id] = time.Now()
		ids = append(ids, id)
	}

	doneBy := time.Now().Add(timeout)
	finishedAt := map[string]time.Time{}
	for time.Now().Before(doneBy) && len(finishedAt) < count {
		for _, id := range ids {
			if _, ok := finishedAt[id]; ok {
				continue
			}
			status, err := queue.JobStatus(ctx, rdb, id)
			if err == nil && status == queue.StatusFinished {
				finishedAt[id] = time.Now()
			}
		}
		if len(finishedAt) < count {
			time.Sleep(50 * time.Millisecond)
		}
	}
	res.Duration = time.Since(start)
	if res.Duration > 0 {
		res.Throughput = float64(len(finishedAt)) / res.Duration.Seconds()
	}

	lats := make([]float64, 0, len(finishedAt))
	for id, t := range finishedAt {
		lats = append(lats, t.Sub(enqueuedAt[id]).Seconds())
	}
	if len(lats) > 0 {
		sort.Float64s(lats)
		res.P50 = time.Duration(lats[int(math.Round(0.50*float64(len(lats)-1)))] * float64(time.Second))
		res.P95 = time.Duration(lats[int(math.Round(0.95*float64(len(lats)-1)))] * float64(time.Second))
	}
	return res, nil
}

// KeysStats summarizes managed keys across every registered queue.
type KeysStats struct {
	QueueStats   map[string]queue.QueueStats `json:"queue_stats"`
	Workers      int64                       `json:"workers"`
	RateLimitKey string                      `json:"rate_limit_key"`
	RateLimitTTL string                      `json:"rate_limit_ttl,omitempty"`
}

func StatsKeys(ctx context.Context, cfg *config.Config, rdb *redis.Client) (KeysStats, error) {
	out := KeysStats{QueueStats: map[string]queue.QueueStats{}}
	names, err := queue.Queues(ctx, rdb)
	if err != nil {
		return out, err
	}
	for _, name := range names {
		qs, err := queue.QueueStatsFor(ctx, rdb, name)
		if err != nil {
			return out, err
		}
		out.QueueStats[name] = qs
	}
	workers, err := queue.Workers(ctx, rdb)
	if err != nil {
		return out, err
	}
	out.Workers = int64(len(workers))

	if cfg.Producer.RateLimitKey != "" {
		out.RateLimitKey = cfg.Producer.RateLimitKey
		if ttl, err := rdb.TTL(ctx, cfg.Producer.RateLimitKey).Result(); err == nil && ttl > 0 {
			out.RateLimitTTL = ttl.String()
		}
	}
	return out, nil
}

// PurgeAll empties every registered queue (including the failure queue) and
// clears the producer's rate limiter key. Returns the number of job ids
// removed.
func PurgeAll(ctx context.Context, cfg *config.Config, rdb *redis.Client) (int64, error) {
	var deleted int64
	names, err := queue.Queues(ctx, rdb)
	if err != nil {
		return deleted, err
	}
	for _, name := range names {
		n, err := purgeQueue(ctx, rdb, name)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	if cfg.Producer.RateLimitKey != "" {
		_ = rdb.Del(ctx, cfg.Producer.RateLimitKey).Err()
	}
	return deleted, nil
}
