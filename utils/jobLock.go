package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/sla_dashboard/config"
)

var ErrJobLocked = errors.New("another job is already running for this table")

// lease is the part of *redislock.Lock a held job lock needs.
type lease interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

// ObtainJobLock takes the redis lock "lock:<job>:<table>" and keeps its lease
// alive every ttl/2 until released, so jobs may run longer than ttl. With a
// nil locker it is a no-op so single-instance and test runs need no redis.
// The returned release func is always safe to call, more than once too.
func ObtainJobLock(ctx context.Context, locker *redislock.Client, job, table string, ttl time.Duration) (func(), error) {
	noop := func() {}
	if locker == nil {
		return noop, nil
	}
	key := fmt.Sprintf("lock:%s:%s", job, table)
	lock, err := locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return noop, ErrJobLocked
	}
	if err != nil {
		return noop, fmt.Errorf("obtain %s: %w", key, err)
	}
	return holdLease(lock, key, ttl), nil
}

// holdLease refreshes l until the returned func is called, then releases it.
// A failed refresh means the lease is gone; it is logged and refreshing stops.
func holdLease(l lease, key string, ttl time.Duration) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if ttl <= 0 {
			<-stop
			return
		}
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := l.Refresh(refreshCtx, ttl, nil)
				cancel()
				if err != nil {
					config.LogError(config.GetLogger(), "jobLock.go", "holdLease", "refresh "+key, nil, err)
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release with a fresh context: the job context may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				config.LogError(config.GetLogger(), "jobLock.go", "holdLease", "release "+key, nil, err)
			}
		})
	}
}
