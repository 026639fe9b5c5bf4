// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater samples every registered queue's length and
// updates a gauge. Unlike a fixed list of queue names, it re-reads the
// queues set each tick so newly created queues show up without a restart.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				queues, err := queue.Queues(ctx, rdb)
				if err != nil {
					log.Debug("queue list poll error", Err(err))
					continue
				}
				for _, q := range queues {
					n, err := queue.QueueLength(ctx, rdb, q)
					if err != nil {
						log.Debug("queue length poll error", String("queue", q), Err(err))
						continue
					}
					QueueLength.WithLabelValues(q).Set(float64(n))
				}
			}
		}
	}()
}
