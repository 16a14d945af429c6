package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// Hub 是进程内的 relay：Publish 从不阻塞，订阅者缓冲满时丢弃消息。
// 观众端只关心最新版本，丢掉积压的旧消息不影响收敛（轮询兜底）。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Stream // channel -> stream id -> stream
	closed bool
	buffer int

	published atomic.Uint64
}

// HubStats 是 Hub 的统计快照。
type HubStats struct {
	Published   uint64
	Subscribers int
	Sent        uint64
	Dropped     uint64
}

func NewHub(buffer int) *Hub {
	return &Hub{subs: make(map[string]map[string]*Stream), buffer: buffer}
}

func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}
	h.published.Add(1)

	msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	for _, s := range h.subs[channel] {
		s.Offer(msg)
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, channel string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	var s *Stream
	s = NewStream(h.buffer, func() { h.remove(channel, s.ID()) })
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[string]*Stream)
	}
	h.subs[channel][s.ID()] = s
	return s, nil
}

func (h *Hub) remove(channel, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[channel]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
}

// FailAll 以 err 结束所有订阅，用于上游连接断开。
func (h *Hub) FailAll(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, subs := range h.subs {
		for _, s := range subs {
			s.Fail(err)
		}
		delete(h.subs, ch)
	}
}

// Close 结束所有订阅，之后 Publish/Subscribe 都返回 ErrClosed。
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.FailAll(ErrClosed)
	return nil
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := HubStats{Published: h.published.Load()}
	for _, subs := range h.subs {
		for _, s := range subs {
			st.Subscribers++
			st.Sent += s.Sent()
			st.Dropped += s.Dropped()
		}
	}
	return st
}
