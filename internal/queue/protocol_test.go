// Copyright 2025 James Ross
package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

// S1 — enqueue/dequeue round trip.
func TestEnqueueDequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	id := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	spec := JobSpec{
		Data:        []byte("some-24-byte-blob-here!!"),
		Description: "fixtures.some_calculation(3, 4, z=2)",
		CreatedAt:   "2016-04-05T22:40:35Z",
		Timeout:     180,
	}

	status, enqueuedAt, err := Enqueue(ctx, rdb, "default", id, spec, false)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusQueued {
		t.Fatalf("expected queued, got %s", status)
	}
	if enqueuedAt == nil {
		t.Fatal("expected enqueuedAt to be set")
	}

	typ, _ := rdb.Type(ctx, jobKey(id)).Result()
	if typ != "hash" {
		t.Fatalf("expected hash, got %s", typ)
	}
	ids, _ := rdb.LRange(ctx, queueKey("default"), 0, -1).Result()
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected queue to contain only %s, got %v", id, ids)
	}
	qs, _ := Queues(ctx, rdb)
	if len(qs) != 1 || qs[0] != "default" {
		t.Fatalf("expected queues={default}, got %v", qs)
	}

	st, _ := JobStatus(ctx, rdb, id)
	if st != StatusQueued {
		t.Fatalf("expected queued status, got %s", st)
	}
	origin, _ := rdb.HGet(ctx, jobKey(id), "origin").Result()
	if origin != "default" {
		t.Fatalf("expected origin=default, got %s", origin)
	}
	enqAtStr, _ := rdb.HGet(ctx, jobKey(id), "enqueued_at").Result()
	if _, err := ParseTime(enqAtStr); err != nil {
		t.Fatalf("enqueued_at did not parse: %v", err)
	}

	job, err := Dequeue(ctx, rdb, []string{"default"}, -1)
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != id {
		t.Fatalf("expected id %s, got %s", id, job.ID)
	}
	if string(job.Data) != string(spec.Data) {
		t.Fatalf("data mismatch")
	}
	if job.Status != StatusQueued || job.Origin != "default" {
		t.Fatalf("unexpected job fields: %#v", job)
	}
	n, _ := QueueLength(ctx, rdb, "default")
	if n != 0 {
		t.Fatalf("expected empty queue after dequeue, got %d", n)
	}
}

// S2 — push to front.
func TestEnqueueAtFront(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	rdb.RPush(ctx, queueKey("default"), "xxx")

	id := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	spec := JobSpec{Data: []byte("d"), Description: "d", CreatedAt: "2016-04-05T22:40:35Z"}
	if _, _, err := Enqueue(ctx, rdb, "default", id, spec, true); err != nil {
		t.Fatal(err)
	}
	ids, _ := rdb.LRange(ctx, queueKey("default"), 0, -1).Result()
	if len(ids) != 2 || ids[0] != id || ids[1] != "xxx" {
		t.Fatalf("expected [%s xxx], got %v", id, ids)
	}
}

// S3 — dependency defer and release on finish.
func TestDependencyDeferAndRelease(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)

	parent := "56e6ba45-1aa3-4724-8c9f-51b7b0031cee"
	child := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	parentSpec := JobSpec{Data: []byte("p"), Description: "p", CreatedAt: "2016-04-05T22:40:35Z"}
	childSpec := JobSpec{Data: []byte("c"), Description: "c", CreatedAt: "2016-04-05T22:40:35Z", DependencyID: parent}

	if _, _, err := Enqueue(ctx, rdb, "default", parent, parentSpec, false); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Enqueue(ctx, rdb, "default", child, childSpec, false); err != nil {
		t.Fatal(err)
	}

	ids, _ := rdb.LRange(ctx, queueKey("default"), 0, -1).Result()
	if len(ids) != 1 || ids[0] != parent {
		t.Fatalf("expected only parent queued, got %v", ids)
	}
	deferred, _ := DeferredJobs(ctx, rdb, "default", 0, -1)
	found := false
	for _, d := range deferred {
		if d == child {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected child in deferred registry, got %v", deferred)
	}
	st, _ := JobStatus(ctx, rdb, child)
	if st != StatusDeferred {
		t.Fatalf("expected deferred, got %s", st)
	}

	job, err := Dequeue(ctx, rdb, []string{"default"}, -1)
	if err != nil {
		t.Fatal(err)
	}
	if err := Start(ctx, rdb, "default", job.ID); err != nil {
		t.Fatal(err)
	}
	job.Status = StatusQueued
	job.Origin = "default"
	released, err := Finish(ctx, rdb, job.ID, job.JobSpec)
	if err != nil {
		t.Fatal(err)
	}
	if released != 1 {
		t.Fatalf("expected 1 dependent released, got %d", released)
	}

	ids, _ = rdb.LRange(ctx, queueKey("default"), 0, -1).Result()
	if len(ids) != 1 || ids[0] != child {
		t.Fatalf("expected child released onto queue, got %v", ids)
	}
	st, _ = JobStatus(ctx, rdb, child)
	if st != StatusQueued {
		t.Fatalf("expected child requeued, got %s", st)
	}
}

// A dependency that already finished doesn't defer the child: it goes
// straight onto the queue list as queued.
func TestEnqueueFinishedDependencyActivatesImmediately(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)

	parent := "56e6ba45-1aa3-4724-8c9f-51b7b0031cee"
	child := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	parentSpec := JobSpec{Data: []byte("p"), Description: "p", CreatedAt: "2016-04-05T22:40:35Z"}
	if _, _, err := Enqueue(ctx, rdb, "default", parent, parentSpec, false); err != nil {
		t.Fatal(err)
	}
	job, err := Dequeue(ctx, rdb, []string{"default"}, -1)
	if err != nil {
		t.Fatal(err)
	}
	if err := Start(ctx, rdb, "default", job.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := Finish(ctx, rdb, job.ID, job.JobSpec); err != nil {
		t.Fatal(err)
	}

	childSpec := JobSpec{Data: []byte("c"), Description: "c", CreatedAt: "2016-04-05T22:40:35Z", DependencyID: parent}
	status, enqueuedAt, err := Enqueue(ctx, rdb, "default", child, childSpec, false)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusQueued {
		t.Fatalf("expected immediate queued, got %s", status)
	}
	if enqueuedAt == nil {
		t.Fatal("expected enqueuedAt set for an activated job")
	}
	ids, _ := rdb.LRange(ctx, queueKey("default"), 0, -1).Result()
	if len(ids) != 1 || ids[0] != child {
		t.Fatalf("expected child on the queue list, got %v", ids)
	}
	deferred, _ := DeferredJobs(ctx, rdb, "default", 0, -1)
	if len(deferred) != 0 {
		t.Fatalf("expected empty deferred registry, got %v", deferred)
	}
	dependents, _ := rdb.SMembers(ctx, dependentsKey(parent)).Result()
	if len(dependents) != 0 {
		t.Fatalf("expected no dependents registered, got %v", dependents)
	}
}

// S4 — finish TTL policies.
func TestFinishResultTTLPolicies(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		spec      JobSpec
		wantTTL   time.Duration
		wantExist bool
	}{
		{"absent", JobSpec{Origin: "default"}, ResultTTLDefault * time.Second, true},
		{"custom", JobSpec{Origin: "default", ResultTTLSet: true, ResultTTL: 5000}, 5000 * time.Second, true},
		{"zero", JobSpec{Origin: "default", ResultTTLSet: true, ResultTTL: 0}, 0, false},
		{"forever", JobSpec{Origin: "default", ResultTTLSet: true, ResultTTL: ResultTTLKeepForever}, -1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rdb, _ := newTestClient(t)
			id := "job-" + tc.name
			rdb.HSet(ctx, jobKey(id), toFieldsArg(map[string]string{"status": string(StatusStarted)}))

			if _, err := Finish(ctx, rdb, id, tc.spec); err != nil {
				t.Fatal(err)
			}
			exists, _ := rdb.Exists(ctx, jobKey(id)).Result()
			if (exists == 1) != tc.wantExist {
				t.Fatalf("exists=%d, want exist=%v", exists, tc.wantExist)
			}
			if !tc.wantExist {
				return
			}
			ttl, _ := rdb.TTL(ctx, jobKey(id)).Result()
			if tc.wantTTL < 0 {
				if ttl != -1 {
					t.Fatalf("expected no expiry (-1), got %v", ttl)
				}
			} else if ttl <= 0 || ttl > tc.wantTTL {
				t.Fatalf("expected 0<ttl<=%v, got %v", tc.wantTTL, ttl)
			}
		})
	}
}

// S5 — fail then requeue.
func TestFailThenRequeue(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)

	id := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	spec := JobSpec{Data: []byte("d"), Description: "d", CreatedAt: "2016-04-05T22:40:35Z"}
	if _, _, err := Enqueue(ctx, rdb, "default", id, spec, false); err != nil {
		t.Fatal(err)
	}
	if _, err := Dequeue(ctx, rdb, []string{"default"}, -1); err != nil {
		t.Fatal(err)
	}

	if err := Fail(ctx, rdb, "default", id, "Exception('We are here')"); err != nil {
		t.Fatal(err)
	}
	qs, _ := Queues(ctx, rdb)
	hasFailed := false
	for _, q := range qs {
		if q == FailedQueueName {
			hasFailed = true
		}
	}
	if !hasFailed {
		t.Fatalf("expected failed in queues, got %v", qs)
	}
	failedIDs, _ := Jobs(ctx, rdb, FailedQueueName, 0, -1)
	if len(failedIDs) != 1 || failedIDs[0] != id {
		t.Fatalf("expected id in failed list, got %v", failedIDs)
	}
	st, _ := JobStatus(ctx, rdb, id)
	if st != StatusFailed {
		t.Fatalf("expected failed, got %s", st)
	}
	exc, _ := rdb.HGet(ctx, jobKey(id), "exc_info").Result()
	if exc != "Exception('We are here')" {
		t.Fatalf("unexpected exc_info: %s", exc)
	}

	if err := Requeue(ctx, rdb, id); err != nil {
		t.Fatal(err)
	}
	st, _ = JobStatus(ctx, rdb, id)
	if st != StatusQueued {
		t.Fatalf("expected queued after requeue, got %s", st)
	}
	if exists, _ := rdb.HExists(ctx, jobKey(id), "exc_info").Result(); exists {
		t.Fatalf("expected exc_info cleared")
	}
	ids, _ := Jobs(ctx, rdb, "default", 0, -1)
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected id back on origin, got %v", ids)
	}

	if err := Requeue(ctx, rdb, id); err != ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation requeuing a queued job, got %v", err)
	}
}

func TestRetryClearsStartedClaimAndPushesFront(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)

	id := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	spec := JobSpec{Data: []byte("d"), Description: "d", CreatedAt: "2016-04-05T22:40:35Z"}
	if _, _, err := Enqueue(ctx, rdb, "default", id, spec, false); err != nil {
		t.Fatal(err)
	}
	job, err := Dequeue(ctx, rdb, []string{"default"}, -1)
	if err != nil {
		t.Fatal(err)
	}
	if err := Start(ctx, rdb, "default", job.ID); err != nil {
		t.Fatal(err)
	}
	rdb.RPush(ctx, queueKey("default"), "other")

	job.Extra["retries"] = "1"
	if err := Retry(ctx, rdb, "default", job.ID, job.JobSpec); err != nil {
		t.Fatal(err)
	}

	started, _ := StartedJobs(ctx, rdb, "default", 0, -1)
	if len(started) != 0 {
		t.Fatalf("expected started registry cleared, got %v", started)
	}
	ids, _ := rdb.LRange(ctx, queueKey("default"), 0, -1).Result()
	if len(ids) != 2 || ids[0] != id {
		t.Fatalf("expected retried job at front, got %v", ids)
	}
	st, _ := JobStatus(ctx, rdb, id)
	if st != StatusQueued {
		t.Fatalf("expected queued, got %s", st)
	}
	retries, _ := rdb.HGet(ctx, jobKey(id), "retries").Result()
	if retries != "1" {
		t.Fatalf("expected retries field carried, got %q", retries)
	}
}

func TestDequeueOrphanIDSkipped(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	rdb.RPush(ctx, queueKey("default"), "ghost-id")

	id := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	spec := JobSpec{Data: []byte("d"), Description: "d", CreatedAt: "2016-04-05T22:40:35Z"}
	if _, _, err := Enqueue(ctx, rdb, "default", id, spec, false); err != nil {
		t.Fatal(err)
	}

	job, err := Dequeue(ctx, rdb, []string{"default"}, -1)
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != id {
		t.Fatalf("expected orphan id skipped, got %s", job.ID)
	}
}

func TestDequeueTimeoutSentinel(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	_, err := Dequeue(ctx, rdb, []string{"default"}, -1)
	if err != ErrDequeueTimeout {
		t.Fatalf("expected ErrDequeueTimeout, got %v", err)
	}
}

func TestCancelJob(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	id := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	spec := JobSpec{Data: []byte("d"), Description: "d", CreatedAt: "2016-04-05T22:40:35Z"}
	Enqueue(ctx, rdb, "default", id, spec, false)
	if err := Cancel(ctx, rdb, "default", id); err != nil {
		t.Fatal(err)
	}
	n, _ := QueueLength(ctx, rdb, "default")
	if n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestEmptyQueueRemovesJobs(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	id := "2a5079e7-387b-492f-a81c-68aa55c194c8"
	spec := JobSpec{Data: []byte("d"), Description: "d", CreatedAt: "2016-04-05T22:40:35Z"}
	Enqueue(ctx, rdb, "default", id, spec, false)
	if err := EmptyQueue(ctx, rdb, "default"); err != nil {
		t.Fatal(err)
	}
	exists, _ := rdb.Exists(ctx, jobKey(id)).Result()
	if exists != 0 {
		t.Fatalf("expected job hash deleted")
	}
	n, _ := QueueLength(ctx, rdb, "default")
	if n != 0 {
		t.Fatalf("expected empty queue")
	}
}
