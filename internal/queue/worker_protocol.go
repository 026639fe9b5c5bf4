// Copyright 2025 James Ross
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWorkerTTL is the heartbeat TTL applied when a caller doesn't
// specify one to Birth/Heartbeat.
const DefaultWorkerTTL = 420 * time.Second

// DeathTTL is the residual TTL left on a worker hash after Death, giving
// observers a post-mortem window.
const DeathTTL = 60 * time.Second

// Birth registers a new live worker. Fails with ErrDoubleBirth if the
// worker name is already registered and alive; a residual hash left by a
// dead worker (death field set, residual TTL not yet expired) is cleaned
// up and rebirthed.
func Birth(ctx context.Context, rdb *redis.Client, worker string, queueNames []string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultWorkerTTL
	}
	exists, err := rdb.Exists(ctx, workerKey(worker)).Result()
	if err != nil {
		return err
	}
	if exists != 0 {
		dead, err := rdb.HExists(ctx, workerKey(worker), "death").Result()
		if err != nil {
			return err
		}
		if !dead {
			return ErrDoubleBirth
		}
	}

	pipe := rdb.TxPipeline()
	pipe.Del(ctx, workerKey(worker))
	pipe.HSet(ctx, workerKey(worker), toFieldsArg(map[string]string{
		"birth":  FormatTime(utcNow()),
		"queues": strings.Join(queueNames, ","),
		"status": string(WorkerStarted),
	}))
	pipe.Expire(ctx, workerKey(worker), ttl)
	pipe.SAdd(ctx, workersKey(), workerKey(worker))
	_, err = pipe.Exec(ctx)
	return err
}

// Death marks a worker dead: records the death time, leaves a short
// residual TTL on its hash as a post-mortem window for observers, and
// removes it from the live workers set. ttl <= 0 means the default 60s.
func Death(ctx context.Context, rdb *redis.Client, worker string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DeathTTL
	}
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, workerKey(worker), toFieldsArg(map[string]string{
		"death": FormatTime(utcNow()),
	}))
	pipe.Expire(ctx, workerKey(worker), ttl)
	pipe.SRem(ctx, workersKey(), workerKey(worker))
	_, err := pipe.Exec(ctx)
	return err
}

// ShutdownRequested marks a worker for cooperative shutdown; the worker's
// own run loop is expected to poll this field and stop accepting new jobs.
func ShutdownRequested(ctx context.Context, rdb *redis.Client, worker string) error {
	return rdb.HSet(ctx, workerKey(worker), toFieldsArg(map[string]string{
		"shutdown_requested_date": FormatTime(utcNow()),
	})).Err()
}

// Heartbeat refreshes a worker's TTL. Callers emit this around every
// dequeue and at least every ttl/2 while idle.
func Heartbeat(ctx context.Context, rdb *redis.Client, worker string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultWorkerTTL
	}
	return rdb.Expire(ctx, workerKey(worker), ttl).Err()
}

// WorkerNameFromKey strips the key prefix from a fully-qualified worker
// key, the form Workers returns.
func WorkerNameFromKey(key string) string {
	return strings.TrimPrefix(key, "rq:worker:")
}

// WorkerFields fetches a live worker's full hash (birth, queues, status,
// current_job, shutdown_requested_date and any death marker).
func WorkerFields(ctx context.Context, rdb *redis.Client, worker string) (map[string]string, error) {
	fields, err := rdb.HGetAll(ctx, workerKey(worker)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNoSuchWorker
	}
	return fields, nil
}

// SetWorkerStatus updates a worker's status field and its current_job
// pointer. A running worker loop sets busy with the job id around Start and
// clears back to idle after Finish/Fail.
func SetWorkerStatus(ctx context.Context, rdb *redis.Client, worker string, status WorkerStatus, currentJob string) error {
	fields := map[string]string{"status": string(status)}
	if currentJob != "" {
		fields["current_job"] = currentJob
	}
	if err := rdb.HSet(ctx, workerKey(worker), toFieldsArg(fields)).Err(); err != nil {
		return err
	}
	if currentJob == "" {
		return rdb.HDel(ctx, workerKey(worker), "current_job").Err()
	}
	return nil
}
