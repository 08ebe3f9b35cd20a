package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/forge-backend/internal/platform/ids"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisOptions struct {
	Prefix string
	// TTL bounds how long a crashed holder can keep the lock.
	TTL time.Duration
	// Wait bounds how long WithLock blocks before ErrNotAcquired.
	Wait  time.Duration
	Retry time.Duration
}

type Redis struct {
	log  *logger.Logger
	rdb  *goredis.Client
	opts RedisOptions
}

func NewRedis(log *logger.Logger, rdb *goredis.Client, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "forge:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 15 * time.Second
	}
	if opts.Retry <= 0 {
		opts.Retry = 50 * time.Millisecond
	}
	return &Redis{log: log.With("service", "RedisLocker"), rdb: rdb, opts: opts}
}

// NewRedisFromEnv dials REDIS_ADDR and verifies the connection.
func NewRedisFromEnv(log *logger.Logger) (*Redis, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(log, rdb, RedisOptions{}), nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	full := r.opts.Prefix + key
	token := ids.Plain(24)

	acquireCtx, cancel := context.WithTimeout(ctx, r.opts.Wait)
	defer cancel()
	for {
		ok, err := r.rdb.SetNX(acquireCtx, full, token, r.opts.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-acquireCtx.Done():
			return ErrNotAcquired
		case <-time.After(r.opts.Retry):
		}
	}

	defer func() {
		// Release on a fresh context so a canceled caller still frees the key.
		relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer relCancel()
		if err := releaseScript.Run(relCtx, r.rdb, []string{full}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			r.log.Warn("lock release failed", "key", key, "error", err)
		}
	}()
	return fn(ctx)
}
