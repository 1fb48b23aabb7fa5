package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the TTL only when the caller still owns the lease.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on Redis using SET NX with a TTL. Renew and
// Release go through Lua scripts so the owner check and the mutation are one
// atomic step.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisStore{
		client: redis.NewClient(options),
		prefix: "journey:lease:",
	}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	acquired, err := s.client.SetNX(ctx, s.prefix+key, owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	if acquired {
		return nil
	}

	// SETNX lost. The key may still be ours from an earlier acquire, in which
	// case refresh it instead of failing.
	return s.Renew(ctx, key, owner, ttl)
}

func (s *RedisStore) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	renewed, err := renewScript.Run(ctx, s.client, []string{s.prefix + key}, owner, ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to renew lease %s: %w", key, err)
	}

	if renewed == 0 {
		return ErrLeaseConflict
	}

	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, owner string) error {
	err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}

	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
