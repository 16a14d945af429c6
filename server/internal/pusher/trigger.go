// Package pusher 对接 Pusher Channels：服务端用 REST 触发事件，观众端用 websocket 订阅。
package pusher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	pushersdk "github.com/pusher/pusher-http-go/v5"
)

const (
	DefaultChannel = "content-updates"
	DefaultEvent   = "content-changed"
)

// Config 是 Pusher 应用凭证。四项都配置才算启用。
type Config struct {
	AppID   string
	Key     string
	Secret  string
	Cluster string
	Channel string
	Event   string

	// Host 覆盖 REST 地址（测试用），为空时按 Cluster 推导。
	Host   string
	Secure bool
}

func (c Config) Enabled() bool {
	return c.AppID != "" && c.Key != "" && c.Secret != "" && c.Cluster != ""
}

// Trigger 是服务端的 Pusher 客户端，进程内只创建一个。
type Trigger struct {
	client  *pushersdk.Client
	channel string
	event   string
}

// NewTrigger 创建触发客户端。凭证不全时返回错误，调用方应先检查 Enabled。
func NewTrigger(cfg Config) (*Trigger, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("pusher credentials incomplete")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}
	secure := cfg.Secure || cfg.Host == ""
	return &Trigger{
		client: &pushersdk.Client{
			AppID:      cfg.AppID,
			Key:        cfg.Key,
			Secret:     cfg.Secret,
			Cluster:    cfg.Cluster,
			Host:       cfg.Host,
			Secure:     secure,
			HTTPClient: &http.Client{Timeout: 10 * time.Second},
		},
		channel: cfg.Channel,
		event:   cfg.Event,
	}, nil
}

func (t *Trigger) Channel() string { return t.channel }
func (t *Trigger) Event() string   { return t.event }

// Send 把已编码的 JSON 作为事件数据触发。传字符串避免 SDK 再编码一次。
func (t *Trigger) Send(ctx context.Context, payload []byte) error {
	return t.trigger(ctx, t.channel, t.event, string(payload))
}

// TestEvent 是 /pusher/test 发送的测试事件。
type TestEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// SendTest 在内容频道上发送一条测试事件。观众端会把它当作无效内容丢弃。
func (t *Trigger) SendTest(ctx context.Context, message, timestamp string) error {
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return t.trigger(ctx, t.channel, t.event, TestEvent{Type: "test", Message: message, Timestamp: timestamp})
}

// trigger 的 SDK 调用不支持 ctx，这里等结果或 ctx 结束，先到者为准。
func (t *Trigger) trigger(ctx context.Context, channel, event string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- t.client.Trigger(channel, event, data) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("pusher trigger %s/%s: %w", channel, event, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
