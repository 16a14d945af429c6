// Package publish 是发布入口：鉴权、校验、落库，然后扇出。
package publish

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"stagecast/server/internal/broadcast"
	"stagecast/server/internal/metrics"
	"stagecast/server/internal/model"
)

// ContentWriter 由 store.ContentStore 实现。
type ContentWriter interface {
	Set(ctx context.Context, c *model.VersionedContent) error
}

// Fanout 由 broadcast.Broadcaster 实现。
type Fanout interface {
	Emit(ctx context.Context, c *model.VersionedContent) []broadcast.Outcome
}

// Result 是成功发布的响应体。
type Result struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

type Options struct {
	Secret  string
	Store   ContentWriter
	Fanout  Fanout
	Clock   *model.VersionClock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Gate 串起一次发布：鉴权 → 校验 → 写存储 → 扇出。
// 鉴权或校验失败时没有任何副作用；存储写入一定先于扇出完成。
type Gate struct {
	secret   []byte
	store    ContentWriter
	fanout   Fanout
	clock    *model.VersionClock
	validate *validator.Validate
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewGate(opts Options) *Gate {
	clock := opts.Clock
	if clock == nil {
		clock = model.NewVersionClock(nil)
	}
	return &Gate{
		secret:   []byte(opts.Secret),
		store:    opts.Store,
		fanout:   opts.Fanout,
		clock:    clock,
		validate: newValidator(),
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Authorize 常量时间比较共享密钥。未配置密钥时一律拒绝。
func (g *Gate) Authorize(header string) bool {
	if len(g.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), g.secret) == 1
}

// Publish 处理一次发布请求。
func (g *Gate) Publish(ctx context.Context, raw []byte, authHeader string) (Result, error) {
	if !g.Authorize(authHeader) {
		g.metrics.RecordPublish("unauthorized")
		return Result{}, ErrUnauthorized
	}

	req, err := g.decode(raw)
	if err != nil {
		g.metrics.RecordPublish("invalid")
		return Result{}, err
	}

	version := ""
	if req.Version != nil {
		version = *req.Version
	}
	if version == "" {
		version = g.clock.Next()
	}

	content := &model.VersionedContent{
		Version:  version,
		Title:    req.Title,
		Body:     req.Body,
		ImageURL: model.WithVersionQuery(req.ImageURL, version),
		Effect:   req.Effect.toModel(),
	}

	if err := g.store.Set(ctx, content); err != nil {
		g.metrics.RecordPublish("store_error")
		g.log.Error().Err(err).Str("version", version).Msg("[Publish] ❌ store write failed")
		return Result{}, fmt.Errorf("store content: %w", err)
	}

	// 请求断开也要把扇出做完，存储里已经是新版本了。
	g.fanout.Emit(context.WithoutCancel(ctx), content.Clone())

	g.metrics.RecordPublish("ok")
	g.log.Info().
		Str("version", version).
		Str("effect", string(content.Effect.Type)).
		Msg("[Publish] ✅ content published")
	return Result{OK: true, Version: version}, nil
}

func (g *Gate) decode(raw []byte) (*Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&req); err != nil {
		return nil, &ValidationError{Details: []string{"body must be a JSON object: " + err.Error()}}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Details: []string{"body must contain a single JSON object"}}
	}
	if err := g.validate.Struct(&req); err != nil {
		return nil, &ValidationError{Details: describe(err)}
	}
	return &req, nil
}
