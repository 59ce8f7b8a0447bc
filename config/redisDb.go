package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Every helper treats a nil client as "cache disabled" and becomes a no-op,
// so callers work the same with or without redis.

func GetRedisObject(ctx context.Context, rdb *redis.Client, key string, dest interface{}) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisObject(ctx context.Context, rdb *redis.Client, key string, obj interface{}, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, objInByte, exp).Err()
}

func RemoveRedisKey(ctx context.Context, rdb *redis.Client, keys ...string) error {
	if rdb == nil {
		return nil
	}
	_, err := rdb.Del(ctx, keys...).Result()
	return err
}

// ConnectRedisWithRetry connects with backoff until ctx ends and returns the
// client plus a redislock client built on it.
func ConnectRedisWithRetry(ctx context.Context, redisAddr string) (*redis.Client, *redislock.Client, error) {
	if redisAddr == "" {
		redisAddr = "localhost:6379"
		log.Printf("REDIS_ADDRESS not set; defaulting to %s", redisAddr)
	}

	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
			PoolSize: 50,
		})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return rdb, redislock.New(rdb), nil
		}
		_ = rdb.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("connect redis: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

// ConnectOptionalRedis connects only when REDIS_ADDRESS is set, giving up
// after timeout. Operator CLIs run without caching and locking otherwise.
func ConnectOptionalRedis(ctx context.Context, timeout time.Duration) (*redis.Client, *redislock.Client, error) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		return nil, nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ConnectRedisWithRetry(ctx, addr)
}
