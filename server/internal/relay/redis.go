package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRelay 基于 Redis PUBLISH/SUBSCRIBE。每条订阅独占一个 PubSub 连接。
type RedisRelay struct {
	client redis.UniversalClient
	buffer int
	log    zerolog.Logger
}

func NewRedisRelay(client redis.UniversalClient, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{client: client, buffer: 16, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe 等到服务端确认订阅后才返回，之后发布的消息不会漏掉。
func (r *RedisRelay) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	stream := NewStream(r.buffer, func() {
		cancel()
		_ = ps.Close()
	})

	go func() {
		for {
			msg, err := ps.ReceiveMessage(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				r.log.Warn().Err(err).Str("channel", channel).Msg("[Relay] redis subscription lost")
				stream.Fail(fmt.Errorf("redis subscription %s: %w", channel, err))
				return
			}
			if !stream.Deliver(subCtx, Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}) {
				return
			}
		}
	}()

	return stream, nil
}

// Close 不关闭共享的 redis client，它由 main 负责。
func (r *RedisRelay) Close() error { return nil }
