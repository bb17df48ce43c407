package otp

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps codes in Redis with native TTLs so multiple API nodes
// share one code space. Layout: otp:{mobile} -> code, otp:verified:{mobile}
// set after a successful verify, both expiring together.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr, password string, ttl time.Duration) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, ttl: ttl}
}

func NewRedisStoreFromClient(c *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: c, ttl: ttl}
}

func (s *RedisStore) Issue(ctx context.Context, mobile string) (string, error) {
	code, err := sixDigits()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, codeKey(mobile), code, s.ttl).Err(); err != nil {
		return "", err
	}
	// a fresh code invalidates any earlier verification
	_ = s.client.Del(ctx, verifiedKey(mobile)).Err()
	return code, nil
}

func (s *RedisStore) Verify(ctx context.Context, mobile, code string) error {
	stored, err := s.client.Get(ctx, codeKey(mobile)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	if stored != code {
		return ErrMismatch
	}
	return s.client.Set(ctx, verifiedKey(mobile), "true", s.ttl).Err()
}

func (s *RedisStore) Verified(ctx context.Context, mobile string) (bool, error) {
	v, err := s.client.Get(ctx, verifiedKey(mobile)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return v == "true", nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func codeKey(mobile string) string     { return "otp:" + mobile }
func verifiedKey(mobile string) string { return "otp:verified:" + mobile }
