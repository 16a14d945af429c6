package upstash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"stagecast/server/internal/model"
	"stagecast/server/internal/store"
)

// Store 把当前记录以 JSON 字符串存在一个 key 下，实现 store.Store。
type Store struct {
	client *Client
	key    string
}

var _ store.Store = (*Store)(nil)

func NewStore(client *Client, key string) *Store {
	return &Store{client: client, key: key}
}

func (s *Store) Get(ctx context.Context) (*model.VersionedContent, error) {
	res, err := s.client.Do(ctx, "GET", s.key)
	if err != nil {
		return nil, err
	}
	if isNull(res) {
		return nil, store.ErrNotFound
	}

	var raw string
	if err := json.Unmarshal(res, &raw); err != nil {
		return nil, fmt.Errorf("decode GET result: %w", err)
	}
	var c model.VersionedContent
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &c, nil
}

func (s *Store) Set(ctx context.Context, c *model.VersionedContent) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	_, err = s.client.Do(ctx, "SET", s.key, string(raw))
	return err
}

// SetIfAbsent 用 SET NX，key 已存在时结果为 null。
func (s *Store) SetIfAbsent(ctx context.Context, c *model.VersionedContent) (bool, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("encode content: %w", err)
	}
	res, err := s.client.Do(ctx, "SET", s.key, string(raw), "NX")
	if err != nil {
		return false, err
	}
	return !isNull(res), nil
}

func isNull(res json.RawMessage) bool {
	res = bytes.TrimSpace(res)
	return len(res) == 0 || bytes.Equal(res, []byte("null"))
}
