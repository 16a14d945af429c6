package viewer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"stagecast/server/internal/model"
)

// fakeStream 由测试往里推帧。
type fakeStream struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeStream) Next() ([]byte, error) {
	select {
	case b := <-f.frames:
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeLive 依次返回预置的打开结果，用完之后一直失败。
type fakeLive struct {
	mu      sync.Mutex
	results []func(ctx context.Context) (Stream, error)
	opens   int
}

func (f *fakeLive) Name() string { return "fake" }

func (f *fakeLive) Open(ctx context.Context) (Stream, error) {
	f.mu.Lock()
	f.opens++
	var next func(context.Context) (Stream, error)
	if len(f.results) > 0 {
		next = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()
	if next == nil {
		return nil, errors.New("connection refused")
	}
	return next(ctx)
}

func (f *fakeLive) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func succeed(st *fakeStream) func(context.Context) (Stream, error) {
	return func(context.Context) (Stream, error) { return st, nil }
}

func hang(ctx context.Context) (Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeSource 模拟服务端存储：Current 和 Poll 都读同一条记录。
type fakeSource struct {
	mu         sync.Mutex
	current    *model.VersionedContent
	currentErr error
	pollErr    error
	polls      []string
}

func (f *fakeSource) set(c *model.VersionedContent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = c
}

func (f *fakeSource) Current(context.Context) (*model.VersionedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.current.Clone(), nil
}

func (f *fakeSource) Poll(_ context.Context, last string) (model.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, last)
	if f.pollErr != nil {
		return model.PollResult{}, f.pollErr
	}
	if f.current == nil {
		return model.PollResult{}, nil
	}
	if last == "" || last != f.current.Version {
		return model.PollResult{HasUpdate: true, Content: f.current.Clone()}, nil
	}
	return model.PollResult{}, nil
}

func (f *fakeSource) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.polls)
}

type rendered struct {
	content *model.VersionedContent
	anim    Animation
}

// recorder 记录渲染调用。
type recorder struct {
	mu    sync.Mutex
	items []rendered
	ch    chan rendered
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan rendered, 64)}
}

func (r *recorder) Render(c *model.VersionedContent, a Animation) {
	r.mu.Lock()
	r.items = append(r.items, rendered{c, a})
	r.mu.Unlock()
	r.ch <- rendered{c, a}
}

func (r *recorder) versions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.items))
	for i, it := range r.items {
		out[i] = it.content.Version
	}
	return out
}

func (r *recorder) wait(t *testing.T) rendered {
	t.Helper()
	select {
	case it := <-r.ch:
		return it
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for render, have %v", r.versions())
	}
	return rendered{}
}

// stateLog 记录状态变化并支持等待某个状态。
type stateLog struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateLog() *stateLog { return &stateLog{ch: make(chan State, 64)} }

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
	l.ch <- s
}

func (l *stateLog) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-l.ch:
			if s == want {
				return
			}
		case <-deadline:
			l.mu.Lock()
			defer l.mu.Unlock()
			t.Fatalf("timeout waiting for state %s, saw %v", want, l.states)
		}
	}
}

func content(version, title string) *model.VersionedContent {
	return &model.VersionedContent{
		Version:  version,
		Title:    title,
		Body:     "b",
		ImageURL: "https://x/img.png?v=" + version,
		Effect:   model.Effect{Type: model.EffectFade, Duration: 400},
	}
}
