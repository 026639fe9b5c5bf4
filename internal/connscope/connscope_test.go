// Copyright 2025 James Ross
package connscope

import (
	"context"
	"errors"
	"testing"

	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"github.com/redis/go-redis/v9"
)

func TestFromMissingConnection(t *testing.T) {
	_, err := From(context.Background())
	if !errors.Is(err, queue.ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
}

func TestWithThenFrom(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	ctx := With(context.Background(), rdb)
	got, err := From(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != rdb {
		t.Fatalf("expected the stashed client back")
	}
}

func TestResolveExplicitWins(t *testing.T) {
	ambient := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	explicit := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer ambient.Close()
	defer explicit.Close()

	ctx := With(context.Background(), ambient)
	got, err := Resolve(ctx, explicit)
	if err != nil {
		t.Fatal(err)
	}
	if got != explicit {
		t.Fatalf("expected the explicit client to win over the ambient one")
	}

	got, err = Resolve(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != ambient {
		t.Fatalf("expected fallback to the ambient client")
	}
}
