package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stagecast/server/internal/model"
)

// ContentStore 封装"当前内容"的读写。
// 后端为空时，第一次 Get 会用 set-if-absent 写入默认记录，
// 并发的首次读取最终都收敛到同一条被持久化的默认记录。
type ContentStore struct {
	backend     Store
	clock       *model.VersionClock
	placeholder string
	timeout     time.Duration
	log         zerolog.Logger
}

type ContentOption func(*ContentStore)

// WithPlaceholderImage 覆盖默认记录的占位图。
func WithPlaceholderImage(u string) ContentOption {
	return func(s *ContentStore) { s.placeholder = u }
}

func WithLogger(l zerolog.Logger) ContentOption {
	return func(s *ContentStore) { s.log = l }
}

// WithOpTimeout 限制每次读写后端的耗时，0 表示只受调用方 ctx 约束。
func WithOpTimeout(d time.Duration) ContentOption {
	return func(s *ContentStore) { s.timeout = d }
}

func (s *ContentStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func NewContentStore(backend Store, clock *model.VersionClock, opts ...ContentOption) *ContentStore {
	if clock == nil {
		clock = model.NewVersionClock(nil)
	}
	s := &ContentStore{backend: backend, clock: clock, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get 返回当前记录，存储为空时懒创建默认记录。
func (s *ContentStore) Get(ctx context.Context) (*model.VersionedContent, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	c, err := s.backend.Get(ctx)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get current content: %w", err)
	}

	def := model.DefaultContent(s.clock.Next(), s.placeholder)
	written, err := s.backend.SetIfAbsent(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("init default content: %w", err)
	}
	if written {
		s.log.Info().Str("version", def.Version).Msg("[Store] ✅ default content initialized")
		return def, nil
	}

	// 别的请求抢先写入了，读它写的那一条。
	c, err = s.backend.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("re-read current content: %w", err)
	}
	return c, nil
}

// Peek 读取当前记录但不做懒初始化；为空时返回 ErrNotFound。
func (s *ContentStore) Peek(ctx context.Context) (*model.VersionedContent, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.backend.Get(ctx)
}

// Set 整体覆盖当前记录。
func (s *ContentStore) Set(ctx context.Context, c *model.VersionedContent) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.backend.Set(ctx, c); err != nil {
		return fmt.Errorf("set current content: %w", err)
	}
	return nil
}
