// Package checkpoint persists per-partition stream cursors in redis so the
// stream adapter can resume where it left off after a restart.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCheckpointLoad = errors.New("checkpoint load failed")
	ErrCheckpointSave = errors.New("checkpoint save failed")
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Group    string
}

type RedisStore struct {
	client *redis.Client
	group  string
}

func New(ctx context.Context, cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("checkpoint store unreachable: %w", err)
	}
	return &RedisStore{client: client, group: cfg.Group}, nil
}

func (s *RedisStore) key(partition int) string {
	return fmt.Sprintf("checkpoint:%s:%d", s.group, partition)
}

// Load returns the stored offset for a partition. found is false when the
// partition has never been checkpointed.
func (s *RedisStore) Load(ctx context.Context, partition int) (offset int64, found bool, err error) {
	const fn = "RedisStore:Load"
	val, err := s.client.Get(ctx, s.key(partition)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s:%w:%w", fn, ErrCheckpointLoad, err)
	}
	offset, err = strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s:%w:%w", fn, ErrCheckpointLoad, err)
	}
	return offset, true, nil
}

// Save records the next offset to read for a partition.
func (s *RedisStore) Save(ctx context.Context, partition int, offset int64) error {
	const fn = "RedisStore:Save"
	if err := s.client.Set(ctx, s.key(partition), strconv.FormatInt(offset, 10), 0).Err(); err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrCheckpointSave, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
