package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

// GetRedisLock returns nil until ConnectRedisWithRetry succeeds; callers fall back to
// database-only admission.
func GetRedisLock() *redislock.Client {
	return locker
}

// LookupSessionUsername resolves "Token:<token>" written by the login service.
func LookupSessionUsername(ctx context.Context, token string) (string, bool, error) {
	if rdb == nil {
		return "", false, nil
	}
	val, err := rdb.Get(ctx, "Token:"+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// LookupSessionUser decodes the cached "User:<username>" record into dest.
func LookupSessionUser(ctx context.Context, username string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	raw, err := rdb.Get(ctx, "User:"+username).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// ConnectRedisWithRetry sets the session client and the admission lock client.
// REDIS_CONNECT_ATTEMPTS bounds the retries; 0 retries forever.
func ConnectRedisWithRetry() {
	logger := GetLogger().WithFields(logrus.Fields{"field": "redis"})
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
		logger.Warnf("REDIS_ADDRESS not set; defaulting to %s", addr)
	}
	maxAttempts := intFromEnv("REDIS_CONNECT_ATTEMPTS", 0)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		PoolSize: intFromEnv("REDIS_POOL_SIZE", 20),
	})
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			rdb = client
			locker = redislock.New(client)
			logger.Infof("connected to redis (attempt=%d addr=%s)", attempt, addr)
			return
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			_ = client.Close()
			logger.Errorf("giving up on redis after %d attempts: %v; sessions disabled, admission uses the database only", attempt, err)
			return
		}
		sleep := min(time.Second*time.Duration(1<<min(attempt, 5)), 30*time.Second)
		logger.Warnf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, addr, err, sleep)
		time.Sleep(sleep)
	}
}
