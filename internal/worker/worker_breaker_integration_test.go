// Copyright 2025 James Ross
package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/flyingrobots/go-redis-work-queue/internal/breaker"
	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Repeated handler failures should trip the breaker, and while Open the
// worker should stop draining the queue until cooldown elapses.
func TestWorkerBreakerTripsAndPausesConsumption(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()

	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Redis.Addr = mr.Addr()
	cfg.Worker.Count = 1
	cfg.Worker.Queues = []string{"low"}
	cfg.Worker.Backoff.Base = 1 * time.Millisecond
	cfg.Worker.Backoff.Max = 2 * time.Millisecond
	cfg.Worker.DequeueTimeout = 5 * time.Millisecond
	cfg.CircuitBreaker.Window = 20 * time.Millisecond
	cfg.CircuitBreaker.CooldownPeriod = 200 * time.Millisecond
	cfg.CircuitBreaker.FailureThreshold = 0.5
	cfg.CircuitBreaker.MinSamples = 1
	cfg.Worker.BreakerPause = 5 * time.Millisecond

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		spec := queue.JobSpec{
			Data:        []byte("payload"),
			Description: "always fails",
			CreatedAt:   queue.FormatTime(time.Now().UTC()),
		}
		if _, _, err := queue.Enqueue(ctx, rdb, "low", "id-fail-"+time.Now().Format("150405.000000000")+string(rune('a'+i)), spec, false); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	log := zap.NewNop()
	w := New(cfg, rdb, log, func(ctx context.Context, job queue.Job) error {
		return errors.New("handler always fails")
	})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	opened := false
	for time.Now().Before(deadline) {
		if w.cb.State() == breaker.Open {
			opened = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !opened {
		cancel()
		<-done
		t.Fatal("breaker did not open under failures")
	}

	n1, _ := rdb.LLen(context.Background(), "rq:queue:low").Result()
	time.Sleep(50 * time.Millisecond) // well under the 200ms cooldown
	n2, _ := rdb.LLen(context.Background(), "rq:queue:low").Result()
	if n2 < n1 {
		cancel()
		<-done
		t.Fatalf("queue drained while breaker open: before=%d after=%d", n1, n2)
	}

	cancel()
	<-done
}
