package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsm/redislock"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetCorrelationIdFromContext(ctx); ok {
		t.Fatalf("empty context reported a correlation id")
	}
	ctx = SetCorrelationIdInContext(ctx, "cid-1")
	ctx = SetJobActorInContext(ctx, "cli:etl-sync")
	if got, ok := GetCorrelationIdFromContext(ctx); !ok || got != "cid-1" {
		t.Fatalf("correlation id = %q, %v", got, ok)
	}
	if got, ok := GetJobActorFromContext(ctx); !ok || got != "cli:etl-sync" {
		t.Fatalf("job actor = %q, %v", got, ok)
	}
	if _, ok := GetJobActorFromContext(SetJobActorInContext(context.Background(), "")); ok {
		t.Fatalf("blank actor should not count as set")
	}
}

func TestObtainJobLock_NilLocker(t *testing.T) {
	release, err := ObtainJobLock(context.Background(), nil, "sync", "orders_vs_my", time.Minute)
	if err != nil {
		t.Fatalf("ObtainJobLock: %v", err)
	}
	release()
	release()
}

type fakeLease struct {
	refreshes  atomic.Int32
	releases   atomic.Int32
	refreshErr error
}

func (l *fakeLease) Refresh(_ context.Context, _ time.Duration, _ *redislock.Options) error {
	l.refreshes.Add(1)
	return l.refreshErr
}

func (l *fakeLease) Release(context.Context) error {
	l.releases.Add(1)
	return nil
}

func TestHoldLease_RefreshesUntilReleased(t *testing.T) {
	l := &fakeLease{}
	release := holdLease(l, "lock:sync:orders_vs_my", 20*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for l.refreshes.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("lease refreshed %d times, want at least 3", l.refreshes.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	release()
	release()

	after := l.refreshes.Load()
	time.Sleep(50 * time.Millisecond)
	if got := l.refreshes.Load(); got != after {
		t.Fatalf("lease refreshed after release: %d -> %d", after, got)
	}
	if got := l.releases.Load(); got != 1 {
		t.Fatalf("released %d times, want 1", got)
	}
}

func TestHoldLease_StopsRefreshingWhenLeaseLost(t *testing.T) {
	l := &fakeLease{refreshErr: errors.New("redislock: lock not held")}
	release := holdLease(l, "lock:summary:orders_vs_my", 10*time.Millisecond)
	defer release()

	time.Sleep(80 * time.Millisecond)
	if got := l.refreshes.Load(); got != 1 {
		t.Fatalf("refresh attempts = %d, want 1", got)
	}
}

func TestProcessValidationErrors(t *testing.T) {
	type req struct {
		Country string `validate:"required,alpha,min=2,max=3"`
	}
	err := ValidateStruct(req{Country: "m1"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	fields := ProcessValidationErrors(err)
	if fields["Country"] != "alpha" {
		t.Fatalf("fields = %v", fields)
	}
}
