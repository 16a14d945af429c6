package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stagecast/server/internal/model"
)

// RedisStore 把当前记录以 JSON 字符串存在一个 Redis key 下。
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Get(ctx context.Context) (*model.VersionedContent, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return decodeRecord(raw)
}

func (s *RedisStore) Set(ctx context.Context, c *model.VersionedContent) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, c *model.VersionedContent) (bool, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("encode content: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key, raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", s.key, err)
	}
	return ok, nil
}

func decodeRecord(raw []byte) (*model.VersionedContent, error) {
	var c model.VersionedContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &c, nil
}
