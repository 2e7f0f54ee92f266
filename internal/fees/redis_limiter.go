package fees

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/fixed_window.lua
var luaFixedWindow string

// RedisLimiter is a FixedWindowLimiter shared by every process pointed at
// the same Redis. The counter and its expiry are set atomically in Lua.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	script *redis.Script
}

func NewRedisLimiter(rdb redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &RedisLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "fees:rl:",
		script: redis.NewScript(luaFixedWindow),
	}
}

// ConnectRedis opens a client and checks it with PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  time.Second,
		ReadTimeout:  400 * time.Millisecond,
		WriteTimeout: 400 * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to reach redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.script.Run(ctx, l.rdb, []string{l.prefix + key}, l.limit, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return res == 1, nil
}
