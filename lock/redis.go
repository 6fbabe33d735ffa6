package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
)

const keyPrefix = "streamsight:lock:"

// releaseScript deletes the lock only when the caller still holds it, so a
// holder whose lease already expired cannot free somebody else's lock.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis takes short leases in Redis so multiple service replicas serialize
// snapshot builds for the same topology.
type Redis struct {
	rdb    *goredis.Client
	log    *logger.Logger
	ttl    time.Duration
	retry  time.Duration
	closed bool
	mu     sync.Mutex
}

// NewRedis creates a Redis-backed locker from the configuration.
func NewRedis(cfg Config, log *logger.Logger) (*Redis, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("lock", err.Error()).WithCause(err)
	}

	ttl, _ := time.ParseDuration(cfg.TTL)
	retry, _ := time.ParseDuration(cfg.RetryInterval)
	dialTimeout, _ := time.ParseDuration(cfg.DialTimeout)
	readTimeout, _ := time.ParseDuration(cfg.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.WriteTimeout)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	log.Info("lock store client created", map[string]interface{}{
		"addr": cfg.Addr,
		"db":   cfg.DB,
		"ttl":  cfg.TTL,
	})

	return &Redis{rdb: rdb, log: log, ttl: ttl, retry: retry}, nil
}

// Acquire polls SET NX until the lease is granted or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, errors.ConnectionFailed("lock store").WithCause(err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Timeout("acquire lock " + key).WithCause(ctx.Err())
		case <-time.After(r.retry):
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release with a fresh context: the request context may already
			// be cancelled when deferred releases run.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.rdb, []string{redisKey}, token).Err(); err != nil {
				r.log.Warn("lock release failed, lease will expire", map[string]interface{}{
					"key":   key,
					"error": err.Error(),
				})
			}
		})
	}
	return release, nil
}

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return errors.ConnectionFailed("lock store").WithCause(err)
	}
	return nil
}

// Close closes the Redis connection. Safe to call multiple times.
func (r *Redis) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.rdb.Close()
}
