// Copyright 2025 James Ross
package producer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flyingrobots/go-redis-work-queue/internal/codec"
	"github.com/flyingrobots/go-redis-work-queue/internal/config"
	"github.com/flyingrobots/go-redis-work-queue/internal/obs"
	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Producer struct {
	cfg   *config.Config
	rdb   *redis.Client
	log   *zap.Logger
	codec codec.Codec
}

func New(cfg *config.Config, rdb *redis.Client, log *zap.Logger) *Producer {
	return &Producer{cfg: cfg, rdb: rdb, log: log, codec: codec.JSONCodec{}}
}

// Run walks the configured scan directory and enqueues one job per file
// that matches the include/exclude globs, rate-limited per cfg.Producer.
func (p *Producer) Run(ctx context.Context) error {
	root := p.cfg.Producer.ScanDir
	absRoot, errAbs := filepath.Abs(root)
	if errAbs != nil {
		return errAbs
	}
	include := p.cfg.Producer.IncludeGlobs
	exclude := p.cfg.Producer.ExcludeGlobs

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		abs, err2 := filepath.Abs(path)
		if err2 != nil {
			return nil
		}
		if !strings.HasPrefix(abs, absRoot+string(os.PathSeparator)) && abs != absRoot {
			return nil
		}
		rel, _ := filepath.Rel(root, path)

		incMatch := len(include) == 0
		for _, g := range include {
			if ok, _ := doublestar.PathMatch(g, rel); ok {
				incMatch = true
				break
			}
		}
		if !incMatch {
			return nil
		}
		for _, g := range exclude {
			if ok, _ := doublestar.PathMatch(g, rel); ok {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := p.rateLimit(ctx); err != nil {
			return err
		}
		fi, err := os.Stat(path)
		if err != nil {
			return nil
		}

		queueName := p.queueForExt(filepath.Ext(path))
		id := uuid.NewString()

		enqCtx, enqSpan := obs.StartEnqueueSpan(ctx, queueName)
		defer enqSpan.End()

		payload, err := p.codec.Encode(codec.Payload{
			FuncName: "scan.process_file",
			Args:     []interface{}{abs},
			Kwargs:   map[string]interface{}{"size": fi.Size()},
		})
		if err != nil {
			obs.RecordError(enqCtx, err)
			return err
		}

		traceID, spanID := obs.GetTraceAndSpanID(enqCtx)
		extra := map[string]string{}
		if traceID != "" {
			extra["trace_id"] = traceID
			extra["span_id"] = spanID
		}

		spec := queue.JobSpec{
			Data:         payload,
			Description:  rel,
			CreatedAt:    queue.FormatTime(time.Now().UTC()),
			ResultTTLSet: true,
			ResultTTL:    p.cfg.Protocol.DefaultResultTTL,
			Extra:        extra,
		}

		obs.AddSpanAttributes(enqCtx,
			obs.KeyValue("job.id", id),
			obs.KeyValue("job.filepath", abs),
			obs.KeyValue("job.filesize", fi.Size()),
			obs.KeyValue("queue", queueName),
		)
		obs.AddEvent(enqCtx, "enqueueing_job", obs.KeyValue("queue", queueName), obs.KeyValue("job_id", id))

		status, _, err := queue.Enqueue(enqCtx, p.rdb, queueName, id, spec, false)
		if err != nil {
			obs.RecordError(enqCtx, err)
			return err
		}

		obs.SetSpanSuccess(enqCtx)
		obs.AddEvent(enqCtx, "job_enqueued", obs.KeyValue("queue", queueName), obs.KeyValue("job_id", id))
		obs.JobsEnqueued.WithLabelValues(queueName, string(status)).Inc()
		p.log.Info("enqueued job", obs.String("id", id), obs.String("queue", queueName), obs.String("status", string(status)))
		return nil
	})
}

func (p *Producer) queueForExt(ext string) string {
	ext = strings.ToLower(ext)
	for _, e := range p.cfg.Producer.HighPriorityExts {
		if strings.ToLower(e) == ext {
			return p.cfg.Producer.HighPriorityQueue
		}
	}
	return p.cfg.Producer.DefaultQueue
}

func (p *Producer) rateLimit(ctx context.Context) error {
	if p.cfg.Producer.RateLimitPerSec <= 0 {
		return nil
	}
	key := p.cfg.Producer.RateLimitKey
	n, err := p.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		_ = p.rdb.Expire(ctx, key, time.Second).Err()
	}
	if int(n) > p.cfg.Producer.RateLimitPerSec {
		ttl, err := p.rdb.TTL(ctx, key).Result()
		if err == nil && ttl > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(ttl):
			}
		} else {
			time.Sleep(200 * time.Millisecond)
		}
	}
	return nil
}
