package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/rent-engine/generic"
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Redis is a distributed Locker using SET NX PX with a random token.
// A held lock is renewed every ttl/3, so ttl only bounds how long a crashed
// holder blocks the lease; it does not bound the operation.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration // expiry of an unrenewed lock
	retry     time.Duration
	log       *zap.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig, ttl time.Duration, log *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisWithClient(client, ttl, log), nil
}

// NewRedisWithClient builds a locker around an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, log *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:    client,
		keyPrefix: "rent:lock:",
		ttl:       ttl,
		retry:     25 * time.Millisecond,
		log:       log,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(r.retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w: %v", key, generic.ErrLockTimeout, ctx.Err())
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(key, fullKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// Release with a fresh context: the caller's may already be done.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.client, []string{fullKey}, token).Err(); err != nil {
				r.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// renew keeps the lock alive until stop is closed. It gives up once the key
// no longer holds token.
func (r *Redis) renew(key, fullKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := renewScript.Run(ctx, r.client, []string{fullKey}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.log.Warn("failed to renew lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				r.log.Error("lock lost before release", zap.String("key", key))
				return
			}
		}
	}
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Locker = (*Redis)(nil)
var _ Locker = (*Memory)(nil)
