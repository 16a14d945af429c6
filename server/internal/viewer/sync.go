// Package viewer 是观众端：保持一条推送连接，推送不可用时退回轮询，
// 按版本去重后把内容交给渲染层。
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stagecast/server/internal/model"
)

// PollError 是一次轮询失败。它只被记录，下一个周期会重试。
type PollError struct {
	Err error
}

func (e *PollError) Error() string { return fmt.Sprintf("poll: %v", e.Err) }
func (e *PollError) Unwrap() error { return e.Err }

// errStreamError 表示推送流上收到了 error 控制帧。
var errStreamError = errors.New("stream reported error")

type Config struct {
	// Live 为 nil 时只轮询。
	Live     LiveTransport
	Source   Source
	Renderer Renderer

	// ForcePolling 跳过推送，直接轮询。
	ForcePolling bool

	RetryDelay   time.Duration
	OpenTimeout  time.Duration
	PollInterval time.Duration
	// ReconnectInterval 是轮询期间尝试恢复推送的间隔，0 表示不尝试。
	ReconnectInterval time.Duration
	RequestTimeout    time.Duration

	OnStateChange func(State)
	Logger        zerolog.Logger
}

// ApplySettings 用服务端下发的配置覆盖时长和轮询开关，值为 0 的项保持不变。
func (c *Config) ApplySettings(vs model.ViewerSettings) {
	ms := func(v int, dst *time.Duration) {
		if v > 0 {
			*dst = time.Duration(v) * time.Millisecond
		}
	}
	c.ForcePolling = c.ForcePolling || vs.ForcePolling
	ms(vs.PollIntervalMs, &c.PollInterval)
	ms(vs.RetryDelayMs, &c.RetryDelay)
	ms(vs.OpenTimeoutMs, &c.OpenTimeout)
	ms(vs.ReconnectIntervalMs, &c.ReconnectInterval)
}

func (c *Config) applyDefaults() {
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

type openKind int

const (
	openInitial   openKind = iota // 首次连接，失败后重试一次
	openRetry                     // 重试，失败后进入轮询
	openReconnect                 // 轮询期间的静默尝试，失败保持轮询
)

type openResult struct {
	kind   openKind
	stream Stream
	err    error
}

type pushEvent struct {
	gen  int
	data []byte
	err  error
}

type pollOutcome struct {
	res model.PollResult
	err error
}

// Sync 是观众端同步状态机。所有状态都由一个事件循环 goroutine 持有，
// 网络 IO 在辅助 goroutine 里完成后把结果送回循环。
type Sync struct {
	cfg Config
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once

	mu        sync.Mutex
	state     State
	displayed *model.VersionedContent

	// 以下字段只在事件循环里访问
	stream     Stream
	streamGen  int
	streamKind openKind
	// delivered 表示当前连接已经送达过内容帧。
	delivered  bool
	opening    bool
	polling    bool
	pollBusy   bool
	pollTicker *time.Ticker
	reconnTick *time.Ticker
	retryTimer *time.Timer
	openCh     chan openResult
	pushCh     chan pushEvent
	pollCh     chan pollOutcome
}

func New(cfg Config) *Sync {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Sync{
		cfg:    cfg,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
		openCh: make(chan openResult),
		pushCh: make(chan pushEvent),
		pollCh: make(chan pollOutcome),
	}
}

// Start 启动事件循环，只有第一次调用生效。
func (s *Sync) Start() {
	s.start.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
	})
}

// Close 停止事件循环并关闭连接和定时器。返回后不会再有渲染或状态变化。
func (s *Sync) Close() {
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

func (s *Sync) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Displayed 返回当前展示的内容，尚未展示任何内容时返回 nil。
func (s *Sync) Displayed() *model.VersionedContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayed.Clone()
}

func (s *Sync) setState(st State) {
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	if prev == st {
		return
	}
	s.log.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("[Viewer] state")
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

func (s *Sync) run() {
	defer s.teardown()

	s.initialFetch()
	if s.ctx.Err() != nil {
		return
	}

	if s.cfg.ForcePolling || s.cfg.Live == nil {
		s.enterPolling()
	} else {
		s.setState(StateConnecting)
		s.beginOpen(openInitial)
	}

	for {
		var pollC, reconnC, retryC <-chan time.Time
		if s.pollTicker != nil {
			pollC = s.pollTicker.C
		}
		if s.reconnTick != nil {
			reconnC = s.reconnTick.C
		}
		if s.retryTimer != nil {
			retryC = s.retryTimer.C
		}

		select {
		case <-s.ctx.Done():
			return

		case r := <-s.openCh:
			s.onOpen(r)

		case ev := <-s.pushCh:
			if ev.gen != s.streamGen {
				continue
			}
			if ev.err != nil {
				s.onStreamLost(ev.err)
				continue
			}
			s.handlePush(ev.data)

		case p := <-s.pollCh:
			s.pollBusy = false
			s.onPoll(p)

		case <-retryC:
			s.retryTimer = nil
			s.setState(StateConnecting)
			s.beginOpen(openRetry)

		case <-pollC:
			s.beginPoll()

		case <-reconnC:
			if !s.opening && s.stream == nil {
				s.beginOpen(openReconnect)
			}
		}
	}
}

// initialFetch 读取权威内容作为首屏；失败时先展示占位内容。
func (s *Sync) initialFetch() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()

	c, err := s.cfg.Source.Current(ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Msg("[Viewer] ⚠️ initial fetch failed, showing placeholder")
		s.render(model.DefaultContent("", ""))
		return
	}
	s.apply(c, false)
}

func (s *Sync) beginOpen(kind openKind) {
	s.opening = true
	live := s.cfg.Live
	timeout := s.cfg.OpenTimeout
	go func() {
		stream, err := openBounded(s.ctx, live, timeout)
		select {
		case s.openCh <- openResult{kind: kind, stream: stream, err: err}:
		case <-s.ctx.Done():
			if stream != nil {
				_ = stream.Close()
			}
		}
	}()
}

// openBounded 在 timeout 内等待 Open 结果。超时后到达的连接会被直接关闭。
func openBounded(parent context.Context, live LiveTransport, timeout time.Duration) (Stream, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		stream Stream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		st, err := live.Open(ctx)
		ch <- result{st, err}
	}()

	select {
	case r := <-ch:
		return r.stream, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.stream != nil {
				_ = r.stream.Close()
			}
		}()
		return nil, fmt.Errorf("open %s: %w", live.Name(), ctx.Err())
	}
}

func (s *Sync) onOpen(r openResult) {
	s.opening = false
	if r.err != nil {
		switch r.kind {
		case openInitial:
			s.log.Warn().Err(r.err).Msg("[Viewer] live transport failed, retrying")
			s.setState(StateDisconnected)
			s.scheduleRetry()
		case openRetry:
			s.log.Warn().Err(r.err).Msg("[Viewer] live transport retry failed, falling back to polling")
			s.enterPolling()
		case openReconnect:
			s.log.Debug().Err(r.err).Msg("[Viewer] live transport still unavailable")
		}
		return
	}

	s.stopPolling()
	s.stream = r.stream
	s.streamGen++
	s.streamKind = r.kind
	s.delivered = false
	s.setState(StateConnected)
	s.log.Info().Str("transport", s.cfg.Live.Name()).Msg("[Viewer] ✅ live transport connected")

	gen, stream := s.streamGen, r.stream
	go func() {
		for {
			data, err := stream.Next()
			select {
			case s.pushCh <- pushEvent{gen: gen, data: data, err: err}:
			case <-s.ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// onStreamLost 处理推送连接断开。重试或恢复出来的连接在送达任何内容前就断了，
// 按重试失败处理直接进入轮询，否则上游坏掉时会一直重连而不收敛。
func (s *Sync) onStreamLost(err error) {
	kind, delivered := s.streamKind, s.delivered
	s.closeStream()
	s.setState(StateDisconnected)

	if !delivered && kind != openInitial {
		s.log.Warn().Err(err).Msg("[Viewer] ⚠️ live transport lost before delivering content, falling back to polling")
		s.enterPolling()
		return
	}
	s.log.Warn().Err(err).Msg("[Viewer] ⚠️ live transport lost")
	s.scheduleRetry()
}

func (s *Sync) scheduleRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = time.NewTimer(s.cfg.RetryDelay)
}

func (s *Sync) closeStream() {
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
		s.streamGen++
	}
}

// pushProbe 用来区分控制帧和内容帧。
type pushProbe struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Version string          `json:"version"`
	Effect  json.RawMessage `json:"effect"`
}

func (s *Sync) handlePush(data []byte) {
	var probe pushProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		s.log.Debug().Err(err).Msg("[Viewer] dropped malformed push frame")
		return
	}

	switch probe.Type {
	case model.FrameConnected:
		return
	case model.FrameError:
		s.onStreamLost(fmt.Errorf("%w: %s", errStreamError, probe.Message))
		return
	}

	if probe.Version == "" || len(probe.Effect) == 0 || string(probe.Effect) == "null" {
		s.log.Debug().Msg("[Viewer] dropped push frame without version or effect")
		return
	}

	var c model.VersionedContent
	if err := json.Unmarshal(data, &c); err != nil {
		s.log.Debug().Err(err).Msg("[Viewer] dropped undecodable content frame")
		return
	}
	s.delivered = true
	s.apply(&c, true)
}

func (s *Sync) enterPolling() {
	s.setState(StatePolling)
	if s.polling {
		return
	}
	s.polling = true
	s.pollTicker = time.NewTicker(s.cfg.PollInterval)
	if s.cfg.ReconnectInterval > 0 && s.cfg.Live != nil && !s.cfg.ForcePolling {
		s.reconnTick = time.NewTicker(s.cfg.ReconnectInterval)
	}
	s.beginPoll()
}

func (s *Sync) stopPolling() {
	s.polling = false
	if s.pollTicker != nil {
		s.pollTicker.Stop()
		s.pollTicker = nil
	}
	if s.reconnTick != nil {
		s.reconnTick.Stop()
		s.reconnTick = nil
	}
}

func (s *Sync) beginPoll() {
	if s.pollBusy {
		return
	}
	s.pollBusy = true

	last := ""
	if d := s.Displayed(); d != nil {
		last = d.Version
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
		defer cancel()
		res, err := s.cfg.Source.Poll(ctx, last)
		select {
		case s.pollCh <- pollOutcome{res: res, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Sync) onPoll(p pollOutcome) {
	if p.err != nil {
		s.log.Warn().Err(&PollError{Err: p.err}).Msg("[Viewer] ⚠️ poll failed, will retry")
		return
	}
	if p.res.HasUpdate && p.res.Content != nil {
		s.apply(p.res.Content, false)
	}
}

// apply 按版本去重后渲染。推送来的内容还要比展示中的版本严格更新，
// 迟到的旧广播会被丢弃；权威来源只要版本不同就应用，保证收敛到存储的最终状态。
func (s *Sync) apply(c *model.VersionedContent, fromPush bool) bool {
	if c == nil || c.Version == "" {
		return false
	}
	cur := s.Displayed()
	if cur != nil {
		if cur.Version == c.Version {
			return false
		}
		if fromPush {
			if cmp, ok := model.CompareVersions(c.Version, cur.Version); ok && cmp <= 0 {
				s.log.Debug().Str("incoming", c.Version).Str("displayed", cur.Version).Msg("[Viewer] dropped stale push")
				return false
			}
		}
	}
	return s.render(c)
}

func (s *Sync) render(c *model.VersionedContent) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	if c.Version != "" {
		s.displayed = c.Clone()
	}
	s.mu.Unlock()

	s.log.Info().Str("version", c.Version).Str("effect", string(c.Effect.Type)).Msg("[Viewer] render")
	if s.cfg.Renderer != nil {
		s.cfg.Renderer.Render(c.Clone(), AnimationFor(c.Effect))
	}
	return true
}

func (s *Sync) teardown() {
	s.closeStream()
	s.stopPolling()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}
