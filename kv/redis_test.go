package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisClient(client), mr
}

func TestGetMissingKeyReturnsEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	value, err := store.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
}

func TestSetNXIsSingleWinner(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	ok, err := store.SetNX(ctx, "nonce:abc", "1", 120*time.Second)
	if err != nil || !ok {
		t.Fatalf("first setnx should win: ok=%v err=%v", ok, err)
	}
	ok, err = store.SetNX(ctx, "nonce:abc", "1", 120*time.Second)
	if err != nil {
		t.Fatalf("second setnx: %v", err)
	}
	if ok {
		t.Fatalf("second setnx must lose")
	}
	if ttl := mr.TTL("nonce:abc"); ttl != 120*time.Second {
		t.Fatalf("expected 120s ttl, got %s", ttl)
	}
}

func TestCounters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if n, err := store.Incr(ctx, "payouts:hour:2026010112"); err != nil || n != 1 {
		t.Fatalf("incr: n=%d err=%v", n, err)
	}
	if n, err := store.Incr(ctx, "payouts:hour:2026010112"); err != nil || n != 2 {
		t.Fatalf("incr: n=%d err=%v", n, err)
	}
	total, err := store.IncrByFloat(ctx, "payouts:day:20260101", 45.5)
	if err != nil || total != 45.5 {
		t.Fatalf("incrbyfloat: total=%v err=%v", total, err)
	}
	total, err = store.IncrByFloat(ctx, "payouts:day:20260101", 4.5)
	if err != nil || total != 50 {
		t.Fatalf("incrbyfloat: total=%v err=%v", total, err)
	}
}

func TestExpireAndDelete(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, "admin:42", "1", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Expire(ctx, "admin:42", 600*time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}
	mr.FastForward(601 * time.Second)
	value, err := store.Get(ctx, "admin:42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "" {
		t.Fatalf("expected key to expire, got %q", value)
	}
	if err := store.Set(ctx, "chat:7", "x", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Del(ctx, "chat:7"); err != nil {
		t.Fatalf("del: %v", err)
	}
}
