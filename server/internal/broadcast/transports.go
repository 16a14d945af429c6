package broadcast

import (
	"context"

	"stagecast/server/internal/relay"
)

// RelayTransport 把内容发布到 relay channel，所有 SubscriptionBridge 都从这里收。
type RelayTransport struct {
	relay   relay.Relay
	channel string
}

func NewRelayTransport(r relay.Relay, channel string) *RelayTransport {
	return &RelayTransport{relay: r, channel: channel}
}

func (t *RelayTransport) Name() string { return "relay" }

func (t *RelayTransport) Send(ctx context.Context, payload []byte) error {
	return t.relay.Publish(ctx, t.channel, payload)
}

// PusherSender 由 pusher.Trigger 实现。
type PusherSender interface {
	Send(ctx context.Context, payload []byte) error
}

// PusherTransport 通过 Pusher 触发 content-changed 事件。只在凭证齐全时创建。
type PusherTransport struct {
	sender PusherSender
}

func NewPusherTransport(s PusherSender) *PusherTransport {
	return &PusherTransport{sender: s}
}

func (t *PusherTransport) Name() string { return "pusher" }

func (t *PusherTransport) Send(ctx context.Context, payload []byte) error {
	return t.sender.Send(ctx, payload)
}
