// Copyright 2025 James Ross
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queues lists every queue name currently registered.
func Queues(ctx context.Context, rdb *redis.Client) ([]string, error) {
	return rdb.SMembers(ctx, queuesKey()).Result()
}

// Jobs lists job ids in a queue's list between start and end (inclusive,
// -1 meaning "to the end"), same semantics as LRANGE.
func Jobs(ctx context.Context, rdb *redis.Client, queueName string, start, end int64) ([]string, error) {
	return rdb.LRange(ctx, queueKey(queueName), start, end).Result()
}

// JobStatus returns a job's current status.
func JobStatus(ctx context.Context, rdb *redis.Client, id string) (Status, error) {
	s, err := rdb.HGet(ctx, jobKey(id), "status").Result()
	if err == redis.Nil {
		return "", ErrNoSuchJob
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// GetJob fetches the full job hash.
func GetJob(ctx context.Context, rdb *redis.Client, id string) (Job, error) {
	fields, err := rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return Job{}, err
	}
	if len(fields) == 0 {
		return Job{}, ErrNoSuchJob
	}
	return Job{ID: id, JobSpec: specFromFields(fields)}, nil
}

// StartedJobs lists ids in a queue's started registry.
func StartedJobs(ctx context.Context, rdb *redis.Client, queueName string, start, end int64) ([]string, error) {
	return rdb.ZRange(ctx, startedRegistryKey(queueName), start, end).Result()
}

// StartedJobsOlderThan returns ids in a queue's started registry whose
// Start call predates cutoff, the reaper's candidate set for recovery.
func StartedJobsOlderThan(ctx context.Context, rdb *redis.Client, queueName string, cutoff time.Time) ([]string, error) {
	return rdb.ZRangeByScore(ctx, startedRegistryKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
}

// FinishedJobs lists ids in a queue's finished registry.
func FinishedJobs(ctx context.Context, rdb *redis.Client, queueName string, start, end int64) ([]string, error) {
	return rdb.ZRange(ctx, finishedRegistryKey(queueName), start, end).Result()
}

// DeferredJobs lists ids in a queue's deferred registry.
func DeferredJobs(ctx context.Context, rdb *redis.Client, queueName string, start, end int64) ([]string, error) {
	return rdb.ZRange(ctx, deferredRegistryKey(queueName), start, end).Result()
}

// QueueLength returns the number of ids waiting in a queue's list.
func QueueLength(ctx context.Context, rdb *redis.Client, queueName string) (int64, error) {
	return rdb.LLen(ctx, queueKey(queueName)).Result()
}

// Workers lists the fully-qualified keys of every live worker.
func Workers(ctx context.Context, rdb *redis.Client) ([]string, error) {
	return rdb.SMembers(ctx, workersKey()).Result()
}

// QueueStats aggregates a queue's list/registry sizes in one round trip,
// useful for admin/observability surfaces that would otherwise issue four
// separate queries.
type QueueStats struct {
	Queued   int64
	Started  int64
	Finished int64
	Deferred int64
}

func QueueStatsFor(ctx context.Context, rdb *redis.Client, queueName string) (QueueStats, error) {
	pipe := rdb.Pipeline()
	qLen := pipe.LLen(ctx, queueKey(queueName))
	sLen := pipe.ZCard(ctx, startedRegistryKey(queueName))
	fLen := pipe.ZCard(ctx, finishedRegistryKey(queueName))
	dLen := pipe.ZCard(ctx, deferredRegistryKey(queueName))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return QueueStats{}, err
	}
	return QueueStats{
		Queued:   qLen.Val(),
		Started:  sLen.Val(),
		Finished: fLen.Val(),
		Deferred: dLen.Val(),
	}, nil
}
