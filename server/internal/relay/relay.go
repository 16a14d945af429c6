// Package relay 是跨进程的发布/订阅通道：发布端把内容更新写进一个 channel，
// 每个观众连接各自订阅它。
//
// 驱动在配置期选定：
//   - memory：进程内 Hub，单实例部署或测试用
//   - redis：Redis PUBLISH/SUBSCRIBE
//   - mqtt：MQTT broker，一个进程每个 channel 只有一条上游订阅
//   - upstash：Upstash REST（见 upstash 包）
package relay

import (
	"context"
	"errors"
)

// ErrClosed 表示 relay 已关闭。
var ErrClosed = errors.New("relay closed")

// Message 是从 channel 上收到的一条消息。Payload 不含任何 channel 元数据。
type Message struct {
	Channel string
	Payload []byte
}

// Subscription 是一条订阅。
// Messages 永远不会被关闭，消费方应同时等待 Done。
type Subscription interface {
	Messages() <-chan Message
	// Done 在订阅结束时关闭（主动 Close 或上游出错）。
	Done() <-chan struct{}
	// Err 返回上游错误；主动 Close 结束的订阅返回 nil。
	Err() error
	Close() error
}

type Relay interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}
