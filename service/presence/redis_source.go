package presence

import (
	"context"
	"time"

	pkgerr "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: im:presence:<user>
// value is the gateway node id; TTL bounds the online validity window.
const presenceKeyPrefix = "im:presence:"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisSource reads presence keys maintained by the gateway fleet.
type RedisSource struct {
	rdb *redis.Client
}

func NewRedisSource(cfg RedisConfig) (*RedisSource, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, pkgerr.Wrap(err, "redis ping")
	}
	return &RedisSource{rdb: rdb}, nil
}

func presenceKey(user string) string { return presenceKeyPrefix + user }

// Lookup batches the whole id set into one MGET.
func (s *RedisSource) Lookup(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = presenceKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, pkgerr.Wrap(err, "presence mget")
	}
	out := make(map[string]bool, len(ids))
	for i, v := range vals {
		out[ids[i]] = v != nil
	}
	return out, nil
}

func (s *RedisSource) Close() error {
	return s.rdb.Close()
}
