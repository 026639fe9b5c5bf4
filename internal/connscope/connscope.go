// Copyright 2025 James Ross

// Package connscope is the optional, language-neutral stand-in for the
// source implementation's process-wide "current connection" stack. Go has
// no goroutine-local storage, so instead of a true stack this wraps
// context.Context: callers that want the original ambient-connection
// ergonomics can stash a client on a context once and have helpers pull it
// back out, while every protocol function still accepts the store
// explicitly as its first argument and never reaches for this package
// itself.
package connscope

import (
	"context"

	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/redis/go-redis/v9"
)

type contextKey struct{}

// With returns a context carrying rdb as the current connection.
func With(ctx context.Context, rdb *redis.Client) context.Context {
	return context.WithValue(ctx, contextKey{}, rdb)
}

// From resolves the current connection from ctx, returning
// queue.ErrNoConnection if none was stashed.
func From(ctx context.Context) (*redis.Client, error) {
	rdb, ok := ctx.Value(contextKey{}).(*redis.Client)
	if !ok || rdb == nil {
		return nil, queue.ErrNoConnection
	}
	return rdb, nil
}

// Resolve returns rdb if non-nil, otherwise falls back to the connection
// stashed on ctx via With. Mirrors the source's resolve_connection helper:
// an explicit connection always wins over the ambient one.
func Resolve(ctx context.Context, rdb *redis.Client) (*redis.Client, error) {
	if rdb != nil {
		return rdb, nil
	}
	return From(ctx)
}
