package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "oauth:state:"

// StateGuard makes a signed OAuth state usable once. The signature already
// proves the state is ours; the guard stops the same callback URL from being
// replayed within the state lifetime.
type StateGuard struct {
	client *redis.Client
}

func NewStateGuard(client *redis.Client) *StateGuard {
	return &StateGuard{client: client}
}

// Claim reports whether id was unused. The marker expires with the state.
func (g *StateGuard) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if id == "" {
		return false, nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := g.client.SetNX(ctx, stateKeyPrefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim oauth state: %w", err)
	}
	return ok, nil
}
