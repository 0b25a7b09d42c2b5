package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "wo:seq"

// Redis allocates with INCR, which creates the key at 1 when absent.
type Redis struct {
	Client *redis.Client
	Prefix string
}

func NewRedis(addr, prefix string) *Redis {
	return &Redis{
		Client: redis.NewClient(&redis.Options{Addr: addr, PoolSize: 20}),
		Prefix: prefix,
	}
}

func (r *Redis) Key(orgID string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return fmt.Sprintf("%s:%s", prefix, orgID)
}

func (r *Redis) Next(ctx context.Context, orgID string) (int64, error) {
	if err := ValidateOrgID(orgID); err != nil {
		return 0, err
	}
	seq, err := r.Client.Incr(ctx, r.Key(orgID)).Result()
	if err != nil {
		return 0, unavailable(orgID, err)
	}
	return seq, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.Client.Close()
}
