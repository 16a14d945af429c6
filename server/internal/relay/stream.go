package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// Stream 是 Subscription 的通用实现，各驱动只负责往里投递消息。
type Stream struct {
	id   string
	msgs chan Message
	done chan struct{}

	doneOnce  sync.Once
	closeOnce sync.Once
	onClose   func()

	mu  sync.Mutex
	err error

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewStream 创建一个缓冲为 buffer 的订阅流。onClose 在 Close 时调用一次，用来释放上游资源。
func NewStream(buffer int, onClose func()) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream{
		id:      ulid.Make().String(),
		msgs:    make(chan Message, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *Stream) ID() string                { return s.id }
func (s *Stream) Messages() <-chan Message { return s.msgs }
func (s *Stream) Done() <-chan struct{}    { return s.done }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Deliver 阻塞投递，直到消息被接收、流结束或 ctx 取消。返回是否投递成功。
func (s *Stream) Deliver(ctx context.Context, m Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.msgs <- m:
		s.sent.Add(1)
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Offer 非阻塞投递，缓冲满时丢弃并计数。
func (s *Stream) Offer(m Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.msgs <- m:
		s.sent.Add(1)
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Fail 以上游错误结束订阅。只有第一次结束时的错误会被记录。
func (s *Stream) Fail(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Close 结束订阅并释放上游资源，可重复调用。
func (s *Stream) Close() error {
	s.doneOnce.Do(func() { close(s.done) })
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *Stream) Sent() uint64    { return s.sent.Load() }
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
