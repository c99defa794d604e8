package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(context.Background(), RedisOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "test:"), mr
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "reply:entry-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock, ok=%v err=%v", ok, err)
	}
	if !mr.Exists("test:reply:entry-1") {
		t.Fatalf("expected prefixed key in redis")
	}

	_, ok, err = locker.TryLock(ctx, "reply:entry-1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second lock to be refused, ok=%v err=%v", ok, err)
	}

	unlock()
	if mr.Exists("test:reply:entry-1") {
		t.Fatalf("expected key released")
	}
	unlock2, ok, err := locker.TryLock(ctx, "reply:entry-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock after release, ok=%v err=%v", ok, err)
	}
	unlock2()
}

func TestRedisLockerReleaseKeepsForeignHolder(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	staleUnlock, ok, err := locker.TryLock(ctx, "correlate:m1", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected lock, ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "correlate:m1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock after expiry, ok=%v err=%v", ok, err)
	}

	staleUnlock()
	if !mr.Exists("test:correlate:m1") {
		t.Fatalf("stale unlock must not release the new holder")
	}
}

func TestRedisLockerSurfacesConnectionFailure(t *testing.T) {
	locker, mr := newRedisLocker(t)
	mr.Close()

	_, ok, err := locker.TryLock(context.Background(), "reply:entry-2", time.Minute)
	if ok || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, ok=%v err=%v", ok, err)
	}
}

func TestNewRedisClientFailsWithoutServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisClient(context.Background(), RedisOptions{Addr: addr}); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestLocalLockerSemantics(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := locker.TryLock(ctx, "k", time.Minute); ok {
		t.Fatalf("expected key to be held")
	}
	if _, ok, _ := locker.TryLock(ctx, "other", time.Minute); !ok {
		t.Fatalf("expected independent keys")
	}

	now = now.Add(2 * time.Minute)
	relock, ok, _ := locker.TryLock(ctx, "k", time.Minute)
	if !ok {
		t.Fatalf("expected expired lock to be reacquired")
	}

	unlock()
	if _, ok, _ := locker.TryLock(ctx, "k", time.Minute); ok {
		t.Fatalf("stale unlock must not release the new holder")
	}
	relock()
	relock()
	if _, ok, _ := locker.TryLock(ctx, "k", time.Minute); !ok {
		t.Fatalf("expected lock after release")
	}
}

func TestLockersRejectEmptyKey(t *testing.T) {
	if _, _, err := NewLocalLocker().TryLock(context.Background(), "", time.Second); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	locker := NewRedisLocker(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "")
	if _, _, err := locker.TryLock(context.Background(), "", time.Second); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
