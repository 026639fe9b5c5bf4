// Copyright 2025 James Ross
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

func toFieldsArg(f map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Enqueue writes a job hash and either pushes it onto its queue list or, if
// its dependency hasn't finished, parks it in the deferred registry.
func Enqueue(ctx context.Context, rdb *redis.Client, queueName, id string, spec JobSpec, atFront bool) (Status, *time.Time, error) {
	depFinished := true
	if spec.DependencyID != "" {
		depStatus, err := rdb.HGet(ctx, jobKey(spec.DependencyID), "status").Result()
		if err != nil && err != redis.Nil {
			return "", nil, err
		}
		depFinished = Status(depStatus) == StatusFinished
	}

	pipe := rdb.TxPipeline()
	pipe.SAdd(ctx, queuesKey(), queueName)

	var enqueuedAt *time.Time
	spec.Origin = queueName
	if spec.DependencyID != "" && !depFinished {
		spec.Status = StatusDeferred
		now := utcNow()
		pipe.ZAdd(ctx, deferredRegistryKey(queueName), redis.Z{Score: float64(now.Unix()), Member: id})
		pipe.SAdd(ctx, dependentsKey(spec.DependencyID), id)
	} else {
		spec.Status = StatusQueued
		now := utcNow()
		spec.EnqueuedAt = FormatTime(now)
		enqueuedAt = &now
		if atFront {
			pipe.LPush(ctx, queueKey(queueName), id)
		} else {
			pipe.RPush(ctx, queueKey(queueName), id)
		}
	}

	pipe.HSet(ctx, jobKey(id), toFieldsArg(spec.ToFields()))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", nil, err
	}
	return spec.Status, enqueuedAt, nil
}

func queueNameFromKey(key string) string {
	return strings.TrimPrefix(key, "rq:queue:")
}

// Dequeue pops the next job id across queues in priority order.
//
// timeout < 0 makes a single non-blocking attempt across queues.
// timeout == 0 blocks indefinitely.
// timeout > 0 blocks up to that duration, tracked as a deadline across any
// orphan-id retries so the overall call budget is respected.
func Dequeue(ctx context.Context, rdb *redis.Client, queues []string, timeout time.Duration) (Job, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}

	hasDeadline := timeout > 0
	deadline := time.Now().Add(timeout)

	for {
		remaining := timeout
		if hasDeadline {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return Job{}, ErrDequeueTimeout
			}
		}

		var key, id string
		var found bool
		if timeout < 0 {
			for _, q := range queues {
				v, err := rdb.LPop(ctx, queueKey(q)).Result()
				if err == redis.Nil {
					continue
				}
				if err != nil {
					return Job{}, err
				}
				key, id = queueKey(q), v
				found = true
				break
			}
			if !found {
				return Job{}, ErrDequeueTimeout
			}
		} else {
			res, err := rdb.BLPop(ctx, remaining, keys...).Result()
			if err == redis.Nil {
				return Job{}, ErrDequeueTimeout
			}
			if err != nil {
				return Job{}, err
			}
			key, id = res[0], res[1]
		}

		fields, err := rdb.HGetAll(ctx, jobKey(id)).Result()
		if err != nil {
			return Job{}, err
		}
		if len(fields) == 0 {
			// Orphan id with no hash behind it; skip and retry.
			continue
		}

		spec := specFromFields(fields)
		if spec.Origin == "" {
			spec.Origin = queueNameFromKey(key)
		}
		return Job{ID: id, JobSpec: spec}, nil
	}
}

// Cancel removes id from queue's list without touching the job hash.
// Idempotent.
func Cancel(ctx context.Context, rdb *redis.Client, queueName, id string) error {
	return rdb.LRem(ctx, queueKey(queueName), 0, id).Err()
}

// EmptyQueue deletes the queue list and every job hash it referenced.
// Jobs deferred on a deleted id are not cascaded; they stay parked until
// their dependency id is enqueued and finished again.
func EmptyQueue(ctx context.Context, rdb *redis.Client, queueName string) error {
	ids, err := rdb.LRange(ctx, queueKey(queueName), 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := rdb.TxPipeline()
	pipe.Del(ctx, queueKey(queueName))
	for _, id := range ids {
		pipe.Del(ctx, jobKey(id))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Start marks a job as claimed by a worker: started, persisted (no TTL),
// and registered in its queue's started registry.
func Start(ctx context.Context, rdb *redis.Client, queueName, id string) error {
	now := utcNow()
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), toFieldsArg(map[string]string{
		"status":     string(StatusStarted),
		"started_at": FormatTime(now),
	}))
	pipe.Persist(ctx, jobKey(id))
	pipe.ZAdd(ctx, startedRegistryKey(queueName), redis.Z{Score: float64(now.Unix()), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

// Finish marks a job finished, applies its result_ttl policy, and releases
// any dependents waiting on it. Returns the number of dependents released
// onto their origin queues.
func Finish(ctx context.Context, rdb *redis.Client, id string, spec JobSpec) (int, error) {
	queueName := spec.Origin
	now := utcNow()

	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), toFieldsArg(map[string]string{
		"status":   string(StatusFinished),
		"ended_at": FormatTime(now),
	}))
	pipe.ZRem(ctx, startedRegistryKey(queueName), id)
	pipe.ZAdd(ctx, finishedRegistryKey(queueName), redis.Z{Score: float64(now.Unix()), Member: id})

	switch {
	case !spec.ResultTTLSet:
		pipe.Expire(ctx, jobKey(id), ResultTTLDefault*time.Second)
	case spec.ResultTTL == 0:
		pipe.Del(ctx, jobKey(id))
	case spec.ResultTTL == ResultTTLKeepForever:
		pipe.Persist(ctx, jobKey(id))
	default:
		pipe.Expire(ctx, jobKey(id), time.Duration(spec.ResultTTL)*time.Second)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return releaseDependents(ctx, rdb, id)
}

func releaseDependents(ctx context.Context, rdb *redis.Client, id string) (int, error) {
	members, err := rdb.SMembers(ctx, dependentsKey(id)).Result()
	if err != nil {
		return 0, err
	}
	released := 0
	for _, dep := range members {
		vals, err := rdb.HMGet(ctx, jobKey(dep), "status", "origin").Result()
		if err != nil {
			return released, err
		}
		status, _ := vals[0].(string)
		origin, _ := vals[1].(string)
		if status != string(StatusDeferred) || origin == "" {
			continue
		}
		now := utcNow()
		pipe := rdb.TxPipeline()
		pipe.ZRem(ctx, deferredRegistryKey(origin), dep)
		pipe.HSet(ctx, jobKey(dep), toFieldsArg(map[string]string{
			"status":      string(StatusQueued),
			"enqueued_at": FormatTime(now),
		}))
		pipe.RPush(ctx, queueKey(origin), dep)
		if _, err := pipe.Exec(ctx); err != nil {
			return released, err
		}
		released++
	}
	return released, rdb.Del(ctx, dependentsKey(id)).Err()
}

// Retry returns a started job to the front of its origin queue after a
// failed attempt: removes its started-registry claim, merges spec (which
// carries the caller's bookkeeping fields, e.g. an attempt counter) back
// into the hash, and pushes the id to the front so the retry doesn't wait
// behind the backlog.
func Retry(ctx context.Context, rdb *redis.Client, queueName, id string, spec JobSpec) error {
	now := utcNow()
	spec.Status = StatusQueued
	spec.EnqueuedAt = FormatTime(now)
	spec.Origin = queueName
	pipe := rdb.TxPipeline()
	pipe.SAdd(ctx, queuesKey(), queueName)
	pipe.ZRem(ctx, startedRegistryKey(queueName), id)
	pipe.HSet(ctx, jobKey(id), toFieldsArg(spec.ToFields()))
	pipe.LPush(ctx, queueKey(queueName), id)
	_, err := pipe.Exec(ctx)
	return err
}

// Reap moves a stuck started job back onto its origin queue: a job whose
// owning worker's heartbeat has lapsed is otherwise stranded in the started
// registry forever. Unlike Requeue (which operates on failed jobs), this
// acts directly on a started job, since a dead worker never got to call
// Finish or Fail.
func Reap(ctx context.Context, rdb *redis.Client, queueName, id string) error {
	return Retry(ctx, rdb, queueName, id, JobSpec{})
}

// Fail quarantines a job into the failure queue without touching its
// origin list.
func Fail(ctx context.Context, rdb *redis.Client, queueName, id, excInfo string) error {
	now := utcNow()
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), toFieldsArg(map[string]string{
		"status":   string(StatusFailed),
		"ended_at": FormatTime(now),
		"exc_info": excInfo,
	}))
	pipe.ZRem(ctx, startedRegistryKey(queueName), id)
	pipe.RPush(ctx, failedQueueKey(), id)
	pipe.SAdd(ctx, queuesKey(), FailedQueueName)
	_, err := pipe.Exec(ctx)
	return err
}

// Requeue returns a failed job to its origin queue. A stale failure-list
// entry (job hash already gone) is cleaned up instead of erroring.
func Requeue(ctx context.Context, rdb *redis.Client, id string) error {
	exists, err := rdb.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return rdb.LRem(ctx, failedQueueKey(), 0, id).Err()
	}

	status, err := rdb.HGet(ctx, jobKey(id), "status").Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if Status(status) != StatusFailed {
		return ErrInvalidOperation
	}
	origin, err := rdb.HGet(ctx, jobKey(id), "origin").Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := rdb.TxPipeline()
	pipe.HDel(ctx, jobKey(id), "exc_info")
	pipe.HSet(ctx, jobKey(id), toFieldsArg(map[string]string{"status": string(StatusQueued)}))
	pipe.LRem(ctx, failedQueueKey(), 0, id)
	pipe.RPush(ctx, queueKey(origin), id)
	_, err = pipe.Exec(ctx)
	return err
}
