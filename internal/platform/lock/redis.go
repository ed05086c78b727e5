package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// compareAndDelete releases a key only if it still holds our token, so an
// expired lock re-acquired by another holder is left alone.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Redis is a Locker for multi-instance deployments backed by SET NX PX.
// TTL bounds how long a crashed holder can block a subject.
type Redis struct {
	client redisClient
	ttl    time.Duration
	retry  time.Duration
	prefix string
	logger zerolog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	return newRedis(client, ttl, logger)
}

func newRedis(client redisClient, ttl time.Duration, logger zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		prefix: "scheduler:lock:",
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = normalize(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := compareAndDelete.Run(ctx, r.client, []string{r.prefix + held[i]}, token).Err(); err != nil {
				r.logger.Error().Err(err).Str("key", held[i]).Msg("redis unlock failed")
			}
		}
	}

	for _, k := range keys {
		if err := r.acquire(ctx, r.prefix+k, token); err != nil {
			release()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, k, err)
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	wait := r.retry
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}
}
