package identity

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisGate reads provider eligibility from the provider:meta:{id} hash
// maintained by the identity service and the location consumer.
type RedisGate struct {
	client *redis.Client
}

func NewRedisGate(addr, password string) *RedisGate {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGate{client: c}
}

func NewRedisGateFromClient(c *redis.Client) *RedisGate {
	return &RedisGate{client: c}
}

func (g *RedisGate) Eligible(ctx context.Context, providerID string) (bool, error) {
	m, err := g.client.HGetAll(ctx, MetaKey(providerID)).Result()
	if err != nil {
		return false, err
	}
	if len(m) == 0 {
		return false, nil
	}
	return m["verified"] == "true" && m["rejected"] != "true" && m["active"] == "true", nil
}

func (g *RedisGate) Close() error { return g.client.Close() }

// MetaKey is the hash key holding a provider's eligibility fields.
func MetaKey(providerID string) string { return "provider:meta:" + providerID }
