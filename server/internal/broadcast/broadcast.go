// Package broadcast 把一次发布的内容扇出到所有配置的推送通道。
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stagecast/server/internal/metrics"
	"stagecast/server/internal/model"
)

// Transport 是一种推送通道。Send 收到的是已编码的内容 JSON，所有通道拿到同一份字节。
type Transport interface {
	Name() string
	Send(ctx context.Context, payload []byte) error
}

// TransportError 是单个通道的发送失败。它只会被记录，不会让发布失败。
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Outcome 是单个通道的发送结果。
type Outcome struct {
	Transport string
	Duration  time.Duration
	Err       error
}

// Broadcaster 并发调用所有通道，每个通道有独立超时。
type Broadcaster struct {
	transports []Transport
	timeout    time.Duration
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Broadcaster)

func WithTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Broadcaster) { b.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// New 创建 Broadcaster。至少要有一个通道（relay 通道是必需的）。
func New(transports []Transport, opts ...Option) (*Broadcaster, error) {
	if len(transports) == 0 {
		return nil, errors.New("broadcast: at least one transport is required")
	}
	b := &Broadcaster{
		transports: transports,
		timeout:    5 * time.Second,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Emit 把内容发到所有通道并等待它们完成（受各自超时约束）。
// 从不返回错误：失败被记录并体现在返回的 Outcome 里。
func (b *Broadcaster) Emit(ctx context.Context, c *model.VersionedContent) []Outcome {
	outcomes := make([]Outcome, len(b.transports))

	payload, err := json.Marshal(c)
	if err != nil {
		b.log.Error().Err(err).Str("version", c.Version).Msg("[Broadcast] ❌ encode content failed")
		for i, t := range b.transports {
			outcomes[i] = Outcome{Transport: t.Name(), Err: &TransportError{Transport: t.Name(), Err: err}}
		}
		return outcomes
	}

	var g errgroup.Group
	for i, t := range b.transports {
		g.Go(func() error {
			outcomes[i] = b.send(ctx, t, payload)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, o := range outcomes {
		if o.Err == nil {
			ok++
		}
	}
	b.log.Info().
		Str("version", c.Version).
		Int("delivered", ok).
		Int("transports", len(outcomes)).
		Msg("[Broadcast] fan-out finished")
	return outcomes
}

func (b *Broadcaster) send(ctx context.Context, t Transport, payload []byte) Outcome {
	sctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	err := t.Send(sctx, payload)
	d := time.Since(start)
	b.metrics.RecordTransportSend(t.Name(), err, d)

	if err != nil {
		terr := &TransportError{Transport: t.Name(), Err: err}
		b.log.Warn().Err(terr).Dur("took", d).Msg("[Broadcast] ⚠️ transport send failed")
		return Outcome{Transport: t.Name(), Duration: d, Err: terr}
	}
	return Outcome{Transport: t.Name(), Duration: d}
}
