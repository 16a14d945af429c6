// Package bridge 把 relay 上的订阅转成一条观众端推送流（SSE 或 WebSocket）。
// 每个观众连接一个 Bridge，连接断开时上游订阅随之释放。
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stagecast/server/internal/metrics"
	"stagecast/server/internal/model"
	"stagecast/server/internal/relay"
)

// ErrUpstream 表示上游订阅失败或中断。Bridge 不重连上游，由观众端重新建立连接。
var ErrUpstream = errors.New("stream upstream error")

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Emitter 是下游连接。Emit 写一帧 JSON；KeepAlive 写一个不含数据的保活帧。
// 任何写错误都视为观众端已断开。
type Emitter interface {
	Emit(payload []byte) error
	KeepAlive() error
}

type Config struct {
	Relay     relay.Relay
	Channel   string
	KeepAlive time.Duration
	// Kind 只用于日志和指标（sse / ws）。
	Kind    string
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Bridge struct {
	cfg   Config
	state atomic.Int32
}

func New(cfg Config) *Bridge {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 25 * time.Second
	}
	return &Bridge{cfg: cfg}
}

func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(s State) { b.state.Store(int32(s)) }

var (
	connectedFrame = mustFrame(model.FrameConnected, "stream connected")
	lostFrame      = mustFrame(model.FrameError, "connection lost")
)

func mustFrame(typ, msg string) []byte {
	raw, err := json.Marshal(model.ControlFrame{Type: typ, Message: msg})
	if err != nil {
		panic(err)
	}
	return raw
}

// Run 阻塞直到观众端断开（返回 nil）或上游出错（返回包装了 ErrUpstream 的错误）。
func (b *Bridge) Run(ctx context.Context, em Emitter) error {
	log := b.cfg.Logger.With().Str("kind", b.cfg.Kind).Str("channel", b.cfg.Channel).Logger()
	b.setState(StateConnecting)
	defer b.setState(StateClosed)

	sub, err := b.cfg.Relay.Subscribe(ctx, b.cfg.Channel)
	if err != nil {
		b.setState(StateErrored)
		log.Warn().Err(err).Msg("[Bridge] ❌ upstream subscribe failed")
		_ = em.Emit(lostFrame)
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer sub.Close()

	b.setState(StateStreaming)
	b.cfg.Metrics.StreamOpened(b.cfg.Kind)
	defer b.cfg.Metrics.StreamClosed(b.cfg.Kind)

	if err := em.Emit(connectedFrame); err != nil {
		return nil
	}
	log.Debug().Msg("[Bridge] streaming")

	ticker := time.NewTicker(b.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("[Bridge] viewer disconnected")
			return nil

		case <-ticker.C:
			if err := em.KeepAlive(); err != nil {
				return nil
			}

		case m := <-sub.Messages():
			if !b.forward(em, m) {
				return nil
			}

		case <-sub.Done():
			// 先把已经收到的消息送完，再报告断开。
		drain:
			for {
				select {
				case m := <-sub.Messages():
					if !b.forward(em, m) {
						return nil
					}
				default:
					break drain
				}
			}
			b.setState(StateErrored)
			log.Warn().Err(sub.Err()).Msg("[Bridge] ⚠️ upstream lost")
			_ = em.Emit(lostFrame)
			return fmt.Errorf("%w: %v", ErrUpstream, sub.Err())
		}
	}
}

// forward 只转发合法 JSON，其余静默丢弃。返回 false 表示下游已断开。
func (b *Bridge) forward(em Emitter, m relay.Message) bool {
	if !json.Valid(m.Payload) {
		b.cfg.Metrics.RecordBridgeMessage("dropped")
		b.cfg.Logger.Debug().Int("size", len(m.Payload)).Msg("[Bridge] dropped non-JSON payload")
		return true
	}
	if err := em.Emit(m.Payload); err != nil {
		return false
	}
	b.cfg.Metrics.RecordBridgeMessage("relayed")
	return true
}
