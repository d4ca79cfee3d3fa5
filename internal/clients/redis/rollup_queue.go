package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
)

// RollupQueue is the pending-user set behind the relationship rollup timer.
// Set semantics make enqueueing idempotent: re-adding a user already pending
// is a no-op, and a drain pops every pending member at once.
type RollupQueue interface {
	Add(ctx context.Context, members ...string) error
	PopAll(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}

type rollupQueue struct {
	log *logger.Logger
	rdb *goredis.Client
	key string
}

// NewRollupQueue connects from env. Returns (nil, nil) when REDIS_ADDR is
// unset so the caller can fall back to the in-process set.
func NewRollupQueue(log *logger.Logger) (RollupQueue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}
	key := strings.TrimSpace(os.Getenv("REDIS_ROLLUP_KEY"))
	if key == "" {
		key = "guildgraph:rollup:pending"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &rollupQueue{
		log: log.With("client", "RedisRollupQueue"),
		rdb: rdb,
		key: key,
	}, nil
}

func (q *rollupQueue) Add(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(members))
	for _, m := range members {
		args = append(args, m)
	}
	return q.rdb.SAdd(ctx, q.key, args...).Err()
}

func (q *rollupQueue) PopAll(ctx context.Context) ([]string, error) {
	n, err := q.rdb.SCard(ctx, q.key).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return q.rdb.SPopN(ctx, q.key, n).Result()
}

func (q *rollupQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.SCard(ctx, q.key).Result()
}

func (q *rollupQueue) Close() error {
	return q.rdb.Close()
}
