package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stagecast/server/internal/model"
)

const (
	v1 = "2025-03-01T12:00:00.000Z"
	v2 = "2025-03-01T12:00:01.000Z"
	v3 = "2025-03-01T12:00:02.000Z"
)

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func newSync(live LiveTransport, src Source, r Renderer, states *stateLog, mut func(*Config)) *Sync {
	cfg := Config{
		Live:           live,
		Source:         src,
		Renderer:       r,
		RetryDelay:     10 * time.Millisecond,
		OpenTimeout:    50 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		RequestTimeout: time.Second,
		Logger:         zerolog.Nop(),
	}
	if states != nil {
		cfg.OnStateChange = states.record
	}
	if mut != nil {
		mut(&cfg)
	}
	return New(cfg)
}

func TestSyncConnectsAndAppliesPushOnce(t *testing.T) {
	st := newFakeStream()
	live := &fakeLive{results: []func(context.Context) (Stream, error){succeed(st)}}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, nil)
	s.Start()
	defer s.Close()

	if got := rec.wait(t); got.content.Version != v1 {
		t.Fatalf("expected initial fetch render of v1, got %s", got.content.Version)
	}
	states.waitFor(t, StateConnected)

	st.frames <- []byte(`{"type":"connected","message":"stream connected"}`)
	st.frames <- frame(t, content(v2, "second"))
	st.frames <- frame(t, content(v2, "second"))
	st.frames <- frame(t, content(v3, "third"))

	if got := rec.wait(t); got.content.Version != v2 {
		t.Fatalf("expected v2, got %s", got.content.Version)
	}
	if got := rec.wait(t); got.content.Version != v3 {
		t.Fatalf("expected v3 (duplicate v2 must be skipped), got %s", got.content.Version)
	}
	if vs := rec.versions(); len(vs) != 3 {
		t.Fatalf("expected exactly three renders, got %v", vs)
	}
	if src.pollCount() != 0 {
		t.Fatalf("connected viewer should not poll")
	}
}

func TestSyncDropsStalePush(t *testing.T) {
	st := newFakeStream()
	live := &fakeLive{results: []func(context.Context) (Stream, error){succeed(st)}}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, nil)
	s.Start()
	defer s.Close()

	rec.wait(t)
	states.waitFor(t, StateConnected)

	// P2 的广播先到，P1 的迟到
	st.frames <- frame(t, content(v3, "p2"))
	st.frames <- frame(t, content(v2, "p1 late"))
	st.frames <- []byte(`{"version":"` + v3 + `"}`) // 没有 effect

	if got := rec.wait(t); got.content.Version != v3 {
		t.Fatalf("expected v3, got %s", got.content.Version)
	}
	time.Sleep(50 * time.Millisecond)
	if vs := rec.versions(); len(vs) != 2 {
		t.Fatalf("late stale broadcast must not render, got %v", vs)
	}
	if d := s.Displayed(); d.Version != v3 {
		t.Fatalf("expected v3 displayed, got %s", d.Version)
	}
}

// TestSyncFailoverToPolling 推送一直打不开时进入轮询，并在一个轮询周期内收敛。
func TestSyncFailoverToPolling(t *testing.T) {
	live := &fakeLive{results: []func(context.Context) (Stream, error){hang, hang}}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, nil)
	s.Start()
	defer s.Close()

	rec.wait(t)
	states.waitFor(t, StateConnecting)
	states.waitFor(t, StateDisconnected)
	states.waitFor(t, StatePolling)

	if live.openCount() != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d", live.openCount())
	}

	src.set(content(v2, "second"))
	if got := rec.wait(t); got.content.Version != v2 {
		t.Fatalf("expected poll to converge on v2, got %s", got.content.Version)
	}

	time.Sleep(60 * time.Millisecond)
	if vs := rec.versions(); len(vs) != 2 {
		t.Fatalf("repeated polls must not re-render, got %v", vs)
	}
}

func TestSyncForcePollingSkipsLive(t *testing.T) {
	live := &fakeLive{}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, func(c *Config) { c.ForcePolling = true; c.ReconnectInterval = 10 * time.Millisecond })
	s.Start()
	defer s.Close()

	rec.wait(t)
	states.waitFor(t, StatePolling)
	time.Sleep(60 * time.Millisecond)

	if live.openCount() != 0 {
		t.Fatalf("force polling must never open the live transport, opened %d", live.openCount())
	}
	if src.pollCount() == 0 {
		t.Fatalf("expected polls")
	}
	if s.State() != StatePolling {
		t.Fatalf("expected polling, got %s", s.State())
	}
}

func TestSyncReconnectsFromPolling(t *testing.T) {
	st := newFakeStream()
	live := &fakeLive{results: []func(context.Context) (Stream, error){nil, nil, succeed(st)}}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, func(c *Config) { c.ReconnectInterval = 30 * time.Millisecond })
	s.Start()
	defer s.Close()

	states.waitFor(t, StatePolling)
	states.waitFor(t, StateConnected)

	polls := src.pollCount()
	time.Sleep(80 * time.Millisecond)
	if src.pollCount() != polls {
		t.Fatalf("polling should stop once connected")
	}
}

func TestSyncErrorFrameEndsStream(t *testing.T) {
	first := newFakeStream()
	second := newFakeStream()
	live := &fakeLive{results: []func(context.Context) (Stream, error){succeed(first), succeed(second)}}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, nil)
	s.Start()
	defer s.Close()

	states.waitFor(t, StateConnected)
	first.frames <- []byte(`{"type":"error","message":"connection lost"}`)

	states.waitFor(t, StateDisconnected)
	states.waitFor(t, StateConnected)
	if !first.isClosed() {
		t.Fatalf("expected errored stream to be closed")
	}

	second.frames <- frame(t, content(v2, "second"))
	rec.wait(t) // v1
	if got := rec.wait(t); got.content.Version != v2 {
		t.Fatalf("expected v2 over the new stream, got %s", got.content.Version)
	}
}

func TestSyncInitialFetchFailureShowsPlaceholder(t *testing.T) {
	src := &fakeSource{currentErr: errors.New("503")}
	rec := newRecorder()

	s := newSync(nil, src, rec, nil, nil)
	s.Start()
	defer s.Close()

	got := rec.wait(t)
	if got.content.Title != "waiting for publish" || got.content.Version != "" {
		t.Fatalf("expected placeholder, got %+v", got.content)
	}

	src.mu.Lock()
	src.currentErr = nil
	src.current = content(v1, "first")
	src.mu.Unlock()

	if got := rec.wait(t); got.content.Version != v1 {
		t.Fatalf("expected poll to replace placeholder with v1, got %s", got.content.Version)
	}
}

func TestSyncPollErrorsAreRetried(t *testing.T) {
	src := &fakeSource{current: content(v1, "first"), pollErr: errors.New("500")}
	rec := newRecorder()

	s := newSync(nil, src, rec, nil, nil)
	s.Start()
	defer s.Close()
	rec.wait(t)

	deadline := time.Now().Add(time.Second)
	for src.pollCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.pollCount() < 3 {
		t.Fatalf("expected failed polls to be retried, got %d", src.pollCount())
	}
	if s.State() != StatePolling {
		t.Fatalf("poll errors should keep polling, got %s", s.State())
	}
}

func TestSyncCloseStopsEverything(t *testing.T) {
	st := newFakeStream()
	live := &fakeLive{results: []func(context.Context) (Stream, error){succeed(st)}}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, nil)
	s.Start()
	states.waitFor(t, StateConnected)
	rec.wait(t)

	s.Close()
	if !st.isClosed() {
		t.Fatalf("close must close the live stream")
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}

	n := len(rec.versions())
	select {
	case st.frames <- frame(t, content(v2, "after close")):
	default:
	}
	time.Sleep(30 * time.Millisecond)
	if len(rec.versions()) != n {
		t.Fatalf("no renders allowed after close")
	}
}

// TestSyncUpstreamErrorOnEveryOpenFallsBackToPolling 覆盖服务端 HTTP 正常、
// 但每条推送流一打开就只发 error 帧的情况：重试一次后必须进入轮询并收敛。
func TestSyncUpstreamErrorOnEveryOpenFallsBackToPolling(t *testing.T) {
	brokenStream := func(context.Context) (Stream, error) {
		st := newFakeStream()
		st.frames <- []byte(`{"type":"error","message":"connection lost"}`)
		return st, nil
	}
	live := &fakeLive{}
	for i := 0; i < 50; i++ {
		live.results = append(live.results, brokenStream)
	}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, nil)
	s.Start()
	defer s.Close()

	if got := rec.wait(t); got.content.Version != v1 {
		t.Fatalf("expected initial render of v1, got %s", got.content.Version)
	}
	src.set(content(v2, "second"))

	states.waitFor(t, StatePolling)
	if got := rec.wait(t); got.content.Version != v2 {
		t.Fatalf("expected poll to converge on v2, got %s", got.content.Version)
	}

	time.Sleep(60 * time.Millisecond)
	if n := live.openCount(); n != 2 {
		t.Fatalf("expected initial open plus one retry, got %d opens", n)
	}
	if s.State() != StatePolling {
		t.Fatalf("expected to stay polling, got %s", s.State())
	}
}

// TestSyncStreamThatDeliveredContentIsRetried 验证送达过内容的连接断开后照常重试，而不是直接轮询。
func TestSyncStreamThatDeliveredContentIsRetried(t *testing.T) {
	first := newFakeStream()
	second := newFakeStream()
	third := newFakeStream()
	live := &fakeLive{results: []func(context.Context) (Stream, error){succeed(first), succeed(second), succeed(third)}}
	src := &fakeSource{current: content(v1, "first")}
	rec := newRecorder()
	states := newStateLog()

	s := newSync(live, src, rec, states, nil)
	s.Start()
	defer s.Close()

	rec.wait(t)
	states.waitFor(t, StateConnected)
	first.frames <- []byte(`{"type":"error","message":"connection lost"}`)
	states.waitFor(t, StateConnected)

	second.frames <- frame(t, content(v2, "second"))
	if got := rec.wait(t); got.content.Version != v2 {
		t.Fatalf("expected v2, got %s", got.content.Version)
	}
	second.frames <- []byte(`{"type":"error","message":"connection lost"}`)

	states.waitFor(t, StateDisconnected)
	states.waitFor(t, StateConnected)
	if live.openCount() != 3 {
		t.Fatalf("expected a retry after a stream that delivered content, got %d opens", live.openCount())
	}
	if src.pollCount() != 0 {
		t.Fatalf("healthy reconnects should not poll, got %d polls", src.pollCount())
	}
}

func TestConfigApplySettings(t *testing.T) {
	cfg := Config{RetryDelay: 7 * time.Second, ReconnectInterval: time.Minute}
	cfg.ApplySettings(model.ViewerSettings{
		ForcePolling:        true,
		PollIntervalMs:      5000,
		RetryDelayMs:        2000,
		OpenTimeoutMs:       1500,
		ReconnectIntervalMs: 0,
	})

	if !cfg.ForcePolling {
		t.Fatalf("expected force polling from settings")
	}
	if cfg.PollInterval != 5*time.Second || cfg.RetryDelay != 2*time.Second || cfg.OpenTimeout != 1500*time.Millisecond {
		t.Fatalf("durations not applied: %+v", cfg)
	}
	if cfg.ReconnectInterval != time.Minute {
		t.Fatalf("zero setting must keep existing value, got %v", cfg.ReconnectInterval)
	}
}
