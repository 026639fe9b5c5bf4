// Copyright 2025 James Ross
package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// StartHTTPServer exposes /metrics, /healthz and /readyz. Liveness is
// process-up. Readiness pings the store and reports the registered queue
// and live worker counts, so a process only takes traffic once the backing
// store answers.
func StartHTTPServer(cfg *config.Config, rdb *redis.Client) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, fmt.Sprintf("store unreachable: %v", err), http.StatusServiceUnavailable)
			return
		}
		queues, _ := queue.Queues(ctx, rdb)
		workers, _ := queue.Workers(ctx, rdb)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Queues  int `json:"queues"`
			Workers int `json:"workers"`
		}{Queues: len(queues), Workers: len(workers)})
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
