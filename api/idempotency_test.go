package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduperAddRemove(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})

	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "acme:alice", "k1")
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got %v %v", added, err)
	}
	if ttl := m.TTL("drop:acme:alice:k1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
	added, err = deduper.Add(ctx, "acme:alice", "k1")
	if err != nil || added {
		t.Fatalf("expected duplicate add to be rejected, got %v %v", added, err)
	}
	if added, _ := deduper.Add(ctx, "acme:bob", "k1"); !added {
		t.Fatalf("expected keys to be scoped per caller")
	}

	if err := deduper.Remove(ctx, "acme:alice", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := deduper.Add(ctx, "acme:alice", "k1"); !added {
		t.Fatalf("expected key to be reusable after remove")
	}
}
