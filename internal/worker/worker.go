// Copyright 2025 James Ross
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/flyingrobots/go-redis-work-queue/internal/breaker"
	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/connscope"
	"github.com/flyingrobots/go-redis-work-queue/internal/obs"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler executes a job's payload. The returned error, if any, drives the
// retry/failure path; a nil error finishes the job.
type Handler func(ctx context.Context, job queue.Job) error

type Worker struct {
	cfg     *config.Config
	rdb     *redis.Client
	log     *zap.Logger
	cb      *breaker.CircuitBreaker
	baseID  string
	handler Handler
}

func New(cfg *config.Config, rdb *redis.Client, log *zap.Logger, handler Handler) *Worker {
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	host, _ := os.Hostname()
	pid := os.Getpid()
	now := time.Now().UnixNano()
	randSfx := fmt.Sprintf("%04x", now&0xffff)
	base := fmt.Sprintf("%s-%d-%d-%s", host, pid, now, randSfx)
	return &Worker{cfg: cfg, rdb: rdb, log: log, cb: cb, baseID: base, handler: handler}
}

func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Worker.Count; i++ {
		id := fmt.Sprintf("%s-%d", w.baseID, i)
		g.Go(func() error {
			obs.WorkersAlive.Inc()
			defer obs.WorkersAlive.Dec()
			return w.runOne(gctx, id)
		})
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				switch w.cb.State() {
				case breaker.Closed:
					obs.CircuitBreakerState.Set(0)
				case breaker.HalfOpen:
					obs.CircuitBreakerState.Set(1)
				case breaker.Open:
					obs.CircuitBreakerState.Set(2)
				}
			}
		}
	}()

	return g.Wait()
}

func (w *Worker) runOne(ctx context.Context, workerID string) error {
	if err := queue.Birth(ctx, w.rdb, workerID, w.cfg.Worker.Queues, w.cfg.Protocol.WorkerTTL); err != nil {
		w.log.Error("worker birth failed", obs.String("worker_id", workerID), obs.Err(err))
		return err
	}
	defer func() {
		// ctx is already canceled on shutdown; the death record still has
		// to reach the store.
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Death(dctx, w.rdb, workerID, w.cfg.Protocol.WorkerDeathTTL); err != nil {
			w.log.Warn("worker death update failed", obs.String("worker_id", workerID), obs.Err(err))
		}
	}()

	heartbeat := time.NewTicker(w.cfg.Protocol.HeartbeatInterval)
	defer heartbeat.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				_ = queue.Heartbeat(ctx, w.rdb, workerID, w.cfg.Protocol.WorkerTTL)
			}
		}
	}()

	for ctx.Err() == nil {
		if !w.cb.Allow() {
			time.Sleep(w.cfg.Worker.BreakerPause)
			continue
		}

		_ = queue.Heartbeat(ctx, w.rdb, workerID, w.cfg.Protocol.WorkerTTL)
		deqCtx, deqSpan := obs.StartDequeueSpan(ctx, w.cfg.Worker.Queues[0])
		job, err := queue.Dequeue(deqCtx, w.rdb, w.cfg.Worker.Queues, w.cfg.Worker.DequeueTimeout)
		if err == queue.ErrDequeueTimeout {
			deqSpan.End()
			continue
		}
		if err != nil {
			obs.RecordError(deqCtx, err)
			deqSpan.End()
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("dequeue error", obs.Err(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		obs.SetSpanSuccess(deqCtx)
		obs.AddEvent(deqCtx, "job_dequeued", obs.KeyValue("queue", job.Origin), obs.KeyValue("job.id", job.ID))
		deqSpan.End()
		obs.JobsDequeued.WithLabelValues(job.Origin).Inc()
		if enqAt, err := queue.ParseTime(job.EnqueuedAt); err == nil {
			obs.JobAgeSeconds.Observe(time.Since(enqAt).Seconds())
		}

		_ = queue.SetWorkerStatus(ctx, w.rdb, workerID, queue.WorkerBusy, job.ID)

		start := time.Now()
		ok := w.processJob(ctx, workerID, job)
		obs.JobProcessingDuration.Observe(time.Since(start).Seconds())

		_ = queue.SetWorkerStatus(ctx, w.rdb, workerID, queue.WorkerIdle, "")

		prev := w.cb.State()
		w.cb.Record(ok)
		curr := w.cb.State()
		if prev != curr {
			if curr == breaker.Open {
				obs.CircuitBreakerTrips.Inc()
			}
			w.log.Warn("circuit breaker state changed",
				obs.String("worker_id", workerID),
				obs.String("from", prev.String()),
				obs.String("to", curr.String()),
				obs.String("job_id", job.ID))
		}
	}
	return nil
}

func (w *Worker) processJob(ctx context.Context, workerID string, job queue.Job) bool {
	queueName := job.Origin

	if err := queue.Start(ctx, w.rdb, queueName, job.ID); err != nil {
		w.log.Error("mark job started failed", obs.String("id", job.ID), obs.Err(err))
		return false
	}

	ctx = connscope.With(ctx, w.rdb)
	ctx, span := obs.ContextWithJobSpan(ctx, job)
	defer span.End()
	obs.AddSpanAttributes(ctx,
		obs.KeyValue("worker.id", workerID),
		obs.KeyValue("queue.source", queueName),
	)
	obs.AddEvent(ctx, "job.processing.started", obs.KeyValue("job.id", job.ID))

	err := w.handler(ctx, job)

	if err == nil {
		obs.SetSpanSuccess(ctx)
		obs.AddEvent(ctx, "job.processing.completed", obs.KeyValue("job.id", job.ID))
		released, err := queue.Finish(ctx, w.rdb, job.ID, job.JobSpec)
		if err != nil {
			w.log.Error("finish job failed", obs.String("id", job.ID), obs.Err(err))
			obs.RecordError(ctx, err)
			return false
		}
		if released > 0 {
			obs.JobsReleased.Add(float64(released))
		}
		obs.JobsFinished.WithLabelValues(queueName).Inc()
		w.log.Info("job finished", obs.String("id", job.ID), obs.String("worker_id", workerID))
		return true
	}

	obs.RecordError(ctx, err)
	obs.AddEvent(ctx, "job.processing.failed", obs.KeyValue("job.id", job.ID), obs.KeyValue("reason", err.Error()))

	retries := retryCount(job.JobSpec)
	retries++
	bo := backoff(retries, w.cfg.Worker.Backoff.Base, w.cfg.Worker.Backoff.Max)
	select {
	case <-ctx.Done():
	case <-time.After(bo):
	}

	if retries <= w.cfg.Worker.MaxRetries {
		obs.JobsRetried.Inc()
		obs.AddEvent(ctx, "job.retrying", obs.KeyValue("job.id", job.ID), obs.KeyValue("retry_count", retries))
		if job.Extra == nil {
			job.Extra = map[string]string{}
		}
		job.Extra["retries"] = fmt.Sprintf("%d", retries)
		if err := queue.Retry(ctx, w.rdb, queueName, job.ID, job.JobSpec); err != nil {
			w.log.Error("retry enqueue failed", obs.String("id", job.ID), obs.Err(err))
			obs.RecordError(ctx, err)
		}
		w.log.Warn("job retried", obs.String("id", job.ID), obs.Int("retries", retries), obs.String("worker_id", workerID))
		return false
	}

	obs.AddEvent(ctx, "job.failed.exhausted", obs.KeyValue("job.id", job.ID))
	if err := queue.Fail(ctx, w.rdb, queueName, job.ID, err.Error()); err != nil {
		w.log.Error("fail job failed", obs.String("id", job.ID), obs.Err(err))
		obs.RecordError(ctx, err)
	}
	obs.JobsFailed.WithLabelValues(queueName).Inc()
	w.log.Error("job failed", obs.String("id", job.ID), obs.String("worker_id", workerID))
	return false
}

func retryCount(spec queue.JobSpec) int {
	if spec.Extra == nil {
		return 0
	}
	var n int
	fmt.Sscanf(spec.Extra["retries"], "%d", &n)
	return n
}

func backoff(retries int, base, max time.Duration) time.Duration {
	d := time.Duration(1<<uint(retries-1)) * base
	if d > max || d < 0 {
		return max
	}
	return d
}
