package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/obs"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/redis/go-redis/v9"
)

// ErrNotImplemented indicates a contract that has not yet been implemented.
var ErrNotImplemented = errors.New("not implemented")

// FailedItem represents a failed-queue entry suitable for listing and acting on.
type FailedItem struct {
	ID       string    `json:"id"`
	Origin   string    `json:"origin"`
	Reason   string    `json:"reason,omitempty"`
	EndedAt  time.Time `json:"ended_at,omitempty"`
}

// FailedService defines the contract for listing and acting on failed jobs.
type FailedService interface {
	FailedList(ctx context.Context, cfg *config.Config, rdb *redis.Client, cursor string, limit int) ([]FailedItem, string, error)
	FailedRequeue(ctx context.Context, cfg *config.Config, rdb *redis.Client, ids []string) (int, error)
	FailedPurge(ctx context.Context, cfg *config.Config, rdb *redis.Client, ids []string) (int, error)
}

// FailedList returns a page of failed-queue job ids along with an opaque
// cursor (a decimal list offset) for the next page.
func FailedList(ctx context.Context, cfg *config.Config, rdb *redis.Client, cursor string, limit int) ([]FailedItem, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var offset int64
	if cursor != "" {
		var parsed int64
		if _, err := fmt.Sscan(cursor, &parsed); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	ids, err := queue.Jobs(ctx, rdb, queue.FailedQueueName, offset, offset+int64(limit)-1)
	if err != nil {
		return nil, "", err
	}
	out := make([]FailedItem, 0, len(ids))
	for _, id := range ids {
		job, err := queue.GetJob(ctx, rdb, id)
		if err == queue.ErrNoSuchJob {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		item := FailedItem{ID: id, Origin: job.Origin, Reason: job.ExcInfo}
		if t, err := queue.ParseTime(job.EndedAt); err == nil {
			item.EndedAt = t
		}
		out = append(out, item)
	}
	if int64(len(ids)) < int64(limit) {
		return out, "", nil
	}
	return out, fmt.Sprintf("%d", offset+int64(len(ids))), nil
}

// FailedRequeue requeues the given failed job ids back onto their origin
// queue via the standard Requeue transition.
func FailedRequeue(ctx context.Context, cfg *config.Config, rdb *redis.Client, ids []string) (int, error) {
	requeued := 0
	for _, id := range ids {
		job, err := queue.GetJob(ctx, rdb, id)
		if errors.Is(err, queue.ErrNoSuchJob) {
			// Stale failure-list entry; Requeue below cleans it up.
			job = queue.Job{}
		} else if err != nil {
			return requeued, err
		}
		if err := queue.Requeue(ctx, rdb, id); err != nil {
			if errors.Is(err, queue.ErrInvalidOperation) {
				continue
			}
			return requeued, err
		}
		if job.Origin != "" {
			obs.JobsRequeued.WithLabelValues(job.Origin).Inc()
			requeued++
		}
	}
	return requeued, nil
}

// FailedPurge removes the given ids from the failure queue. Only ids whose
// job status is failed are removed; their job hashes are not deleted.
func FailedPurge(ctx context.Context, cfg *config.Config, rdb *redis.Client, ids []string) (int, error) {
	purged := 0
	for _, id := range ids {
		status, err := queue.JobStatus(ctx, rdb, id)
		if err == queue.ErrNoSuchJob {
			continue
		}
		if err != nil {
			return purged, err
		}
		if status != queue.StatusFailed {
			continue
		}
		if err := queue.Cancel(ctx, rdb, queue.FailedQueueName, id); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// WorkerInfo summarizes a worker's status for an admin listing.
type WorkerInfo struct {
	ID            string     `json:"id"`
	Birth         time.Time  `json:"birth"`
	Status        string     `json:"status"`
	Queues        string     `json:"queues,omitempty"`
	CurrentJob    string     `json:"current_job,omitempty"`
	ShutdownAt    *time.Time `json:"shutdown_requested_at,omitempty"`
}

// WorkerService defines the contract for querying worker status.
type WorkerService interface {
	WorkerList(ctx context.Context, cfg *config.Config, rdb *redis.Client) ([]WorkerInfo, error)
}

// WorkerList lists every currently live worker.
func WorkerList(ctx context.Context, cfg *config.Config, rdb *redis.Client) ([]WorkerInfo, error) {
	keys, err := queue.Workers(ctx, rdb)
	if err != nil {
		return nil, err
	}
	out := make([]WorkerInfo, 0, len(keys))
	for _, key := range keys {
		name := queue.WorkerNameFromKey(key)
		fields, err := queue.WorkerFields(ctx, rdb, name)
		if errors.Is(err, queue.ErrNoSuchWorker) {
			continue
		}
		if err != nil {
			return nil, err
		}
		wi := WorkerInfo{
			ID:         name,
			Status:     fields["status"],
			Queues:     fields["queues"],
			CurrentJob: fields["current_job"],
		}
		if t, err := queue.ParseTime(fields["birth"]); err == nil {
			wi.Birth = t
		}
		if sd, ok := fields["shutdown_requested_date"]; ok && sd != "" {
			if t, err := queue.ParseTime(sd); err == nil {
				wi.ShutdownAt = &t
			}
		}
		out = append(out, wi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// JobEvent is a timeline event for a job.
type JobEvent struct {
	TS   time.Time      `json:"ts"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// TimelineService defines the contract for job timeline retrieval and
// streaming. The protocol doesn't persist a job's transition history
// beyond its current hash, so both methods are unimplemented placeholders
// kept for a future event-log addition.
type TimelineService interface {
	JobTimeline(ctx context.Context, cfg *config.Config, rdb *redis.Client, jobID string, start, end *time.Time, limit int) ([]JobEvent, error)
	SubscribeJob(ctx context.Context, cfg *config.Config, rdb *redis.Client, jobID string) (<-chan JobEvent, func(), error)
}

func JobTimeline(ctx context.Context, cfg *config.Config, rdb *redis.Client, jobID string, start, end *time.Time, limit int) ([]JobEvent, error) {
	return nil, ErrNotImplemented
}

func SubscribeJob(ctx context.Context, cfg *config.Config, rdb *redis.Client, jobID string) (<-chan JobEvent, func(), error) {
	return nil, func() {}, ErrNotImplemented
}
