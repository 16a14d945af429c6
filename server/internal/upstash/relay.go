package upstash

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"stagecast/server/internal/relay"
)

// ErrStreamEnded 表示 Upstash 关闭了订阅流。
var ErrStreamEnded = errors.New("upstash subscription stream ended")

// Relay 实现 relay.Relay。每条订阅是一个独立的 SSE 长连接。
type Relay struct {
	client *Client
	// stream 不能带总超时，和命令用的 HTTPClient 分开。
	streamHTTP *http.Client
	log        zerolog.Logger
}

var _ relay.Relay = (*Relay)(nil)

func NewRelay(client *Client, log zerolog.Logger) *Relay {
	return &Relay{client: client, streamHTTP: &http.Client{}, log: log}
}

func (r *Relay) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := r.client.Do(ctx, "PUBLISH", channel, string(payload))
	return err
}

// Subscribe 在拿到 200 响应头后返回，之后由后台 goroutine 逐行读取。
func (r *Relay) Subscribe(ctx context.Context, channel string) (relay.Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	endpoint := r.client.BaseURL + "/subscribe/" + url.PathEscape(channel)
	req, err := http.NewRequestWithContext(subCtx, http.MethodPost, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create subscribe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.client.Token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.streamHTTP.Do(req)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstash subscribe %s: %w", channel, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("upstash subscribe %s: status %d", channel, resp.StatusCode)
	}

	stream := relay.NewStream(16, func() {
		cancel()
		resp.Body.Close()
	})

	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			msg, ok := ParseFrame(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			if !ok {
				continue
			}
			if !stream.Deliver(subCtx, msg) {
				return
			}
		}
		if subCtx.Err() != nil {
			return
		}
		err := scanner.Err()
		if err == nil {
			err = ErrStreamEnded
		}
		r.log.Warn().Err(err).Str("channel", channel).Msg("[Relay] upstash subscription lost")
		stream.Fail(err)
	}()

	return stream, nil
}

func (r *Relay) Close() error { return nil }

// ParseFrame 解析 Upstash 的订阅帧 "message,<channel>,<payload>"。
// subscribe 确认帧等其它类型返回 false。payload 本身可以含逗号。
func ParseFrame(data string) (relay.Message, bool) {
	kind, rest, ok := strings.Cut(data, ",")
	if !ok || kind != "message" {
		return relay.Message{}, false
	}
	channel, payload, ok := strings.Cut(rest, ",")
	if !ok || channel == "" {
		return relay.Message{}, false
	}
	return relay.Message{Channel: channel, Payload: []byte(payload)}, true
}
