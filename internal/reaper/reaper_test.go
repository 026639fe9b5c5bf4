package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestReaperReclaimsStaleStartedJob(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Protocol.WorkerTTL = 1 * time.Second
	log, _ := zap.NewDevelopment()
	rep := New(cfg, rdb, log)

	ctx := context.Background()
	if _, _, err := queue.Enqueue(ctx, rdb, "low", "id1", queue.JobSpec{}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Dequeue(ctx, rdb, []string{"low"}, -1); err != nil {
		t.Fatal(err)
	}
	if err := queue.Start(ctx, rdb, "low", "id1"); err != nil {
		t.Fatal(err)
	}
	// Simulate a worker that claimed the job long enough ago to be stale.
	rdb.ZAdd(ctx, "rq:wip:low", redis.Z{Score: float64(time.Now().Add(-10 * time.Second).Unix()), Member: "id1"})

	rep.scanOnce(ctx)

	n, _ := rdb.LLen(ctx, "rq:queue:low").Result()
	if n != 1 {
		t.Fatalf("expected job reclaimed onto low queue, got %d", n)
	}
	status, err := queue.JobStatus(ctx, rdb, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if status != queue.StatusQueued {
		t.Fatalf("expected status queued, got %s", status)
	}
}

func TestReaperLeavesFreshStartedJobAlone(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	log, _ := zap.NewDevelopment()
	rep := New(cfg, rdb, log)

	ctx := context.Background()
	if _, _, err := queue.Enqueue(ctx, rdb, "low", "id1", queue.JobSpec{}, false); err != nil {
		t.Fatal(err)
	}
	if err := queue.Start(ctx, rdb, "low", "id1"); err != nil {
		t.Fatal(err)
	}

	rep.scanOnce(ctx)

	status, err := queue.JobStatus(ctx, rdb, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if status != queue.StatusStarted {
		t.Fatalf("expected job to remain started, got %s", status)
	}
}
