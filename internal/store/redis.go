package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("redis: counter lock is held by another delivery")

const lockRetryInterval = 50 * time.Millisecond

// releaseLock deletes the lock key only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	Client *redis.Client
}

func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) Close() error {
	if s.Client != nil {
		return s.Client.Close()
	}
	return nil
}

// Lock acquires the per-link counter lock, polling until ctx is done or
// ttl has elapsed.
func (s *RedisStore) Lock(ctx context.Context, channelID string, ttl time.Duration) (func(context.Context) error, error) {
	key := fmt.Sprintf("counter_lock:%s", channelID)
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)

	for {
		ok, err := s.Client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire counter lock in redis: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	unlock := func(ctx context.Context) error {
		if err := releaseLock.Run(ctx, s.Client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release counter lock in redis: %w", err)
		}
		return nil
	}
	return unlock, nil
}

// MarkSession records a checkout session as counted. It reports false when
// the session was already marked.
func (s *RedisStore) MarkSession(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("checkout_session:%s", sessionID)
	first, err := s.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark checkout session in redis: %w", err)
	}
	return first, nil
}

func (s *RedisStore) ReleaseSession(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("checkout_session:%s", sessionID)
	err := s.Client.Del(ctx, key).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to release checkout session in redis: %w", err)
	}
	return nil
}
