// Copyright 2025 James Ross
package reaper

import (
	"context"
	"time"

	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/obs"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Reaper periodically scans every queue's started registry for jobs whose
// Start is older than the worker TTL and that are still in status started,
// and returns them to their origin queue so another worker can pick them up.
// It judges staleness by the claim's age alone and does not check whether
// the owning worker is still alive, so a job that runs longer than the
// worker TTL is returned to its queue as well.
// This is the source of the protocol's at-least-once delivery guarantee:
// a worker that dies mid-job leaves its claim behind, and this is what
// reclaims it.
type Reaper struct {
	cfg   *config.Config
	rdb   *redis.Client
	log   *zap.Logger
	stale time.Duration
}

func New(cfg *config.Config, rdb *redis.Client, log *zap.Logger) *Reaper {
	return &Reaper{cfg: cfg, rdb: rdb, log: log, stale: cfg.Protocol.WorkerTTL}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

func (r *Reaper) scanOnce(ctx context.Context) {
	queues, err := queue.Queues(ctx, r.rdb)
	if err != nil {
		r.log.Warn("reaper queue list error", obs.Err(err))
		return
	}
	cutoff := time.Now().Add(-r.stale)
	for _, q := range queues {
		ids, err := queue.StartedJobsOlderThan(ctx, r.rdb, q, cutoff)
		if err != nil {
			r.log.Warn("reaper scan error", obs.String("queue", q), obs.Err(err))
			continue
		}
		for _, id := range ids {
			status, err := queue.JobStatus(ctx, r.rdb, id)
			if err == queue.ErrNoSuchJob {
				continue // expired or already finished
			}
			if err != nil || status != queue.StatusStarted {
				continue
			}
			if err := queue.Reap(ctx, r.rdb, q, id); err != nil {
				r.log.Error("reap failed", obs.String("id", id), obs.Err(err))
				continue
			}
			obs.ReaperRecovered.Inc()
			r.log.Warn("reclaimed abandoned job", obs.String("id", id), obs.String("queue", q))
		}
	}
}
