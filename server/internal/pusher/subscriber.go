package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// 观众端说的是 Pusher websocket 协议 7。
const protocolVersion = "7"

// ErrClosed 表示订阅连接已关闭。
var ErrClosed = errors.New("pusher connection closed")

// SubscriberConfig 是观众端订阅用的公开配置，不含 secret。
type SubscriberConfig struct {
	Key     string
	Cluster string
	Channel string
	Event   string
	// URL 覆盖 websocket 地址（测试用），为空时按 Cluster 推导。
	URL string
}

func (c SubscriberConfig) endpoint() string {
	if c.URL != "" {
		return c.URL
	}
	q := url.Values{}
	q.Set("protocol", protocolVersion)
	q.Set("client", "stagecast-go")
	q.Set("version", "1.0")
	return fmt.Sprintf("wss://ws-%s.pusher.com/app/%s?%s", c.Cluster, url.PathEscape(c.Key), q.Encode())
}

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ProtocolError 是服务端发来的 pusher:error。
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("pusher error %d: %s", e.Code, e.Message)
}

// Conn 是一条已订阅的 Pusher 连接。Next 只能在一个 goroutine 里调用。
type Conn struct {
	ws  *websocket.Conn
	cfg SubscriberConfig
}

// Dial 建立连接、等待 connection_established、订阅频道并等待订阅成功。
func Dial(ctx context.Context, cfg SubscriberConfig) (*Conn, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, cfg.endpoint(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial pusher: status=%d err=%w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial pusher: %w", err)
	}

	c := &Conn{ws: ws, cfg: cfg}
	if err := c.handshake(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
		defer c.ws.SetReadDeadline(time.Time{})
	}

	if err := c.expect("pusher:connection_established"); err != nil {
		return err
	}

	sub := map[string]any{
		"event": "pusher:subscribe",
		"data":  map[string]string{"channel": c.cfg.Channel},
	}
	if err := c.ws.WriteJSON(sub); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	return c.expect("pusher_internal:subscription_succeeded")
}

// expect 读到指定事件为止，期间处理 ping 和 error。
func (c *Conn) expect(event string) error {
	for {
		f, err := c.read()
		if err != nil {
			return err
		}
		if f.Event == event {
			return nil
		}
	}
}

// read 读一帧并处理协议层事件（ping/error）。
func (c *Conn) read() (frame, error) {
	var f frame
	if err := c.ws.ReadJSON(&f); err != nil {
		return frame{}, fmt.Errorf("read pusher frame: %w", err)
	}
	switch f.Event {
	case "pusher:ping":
		if err := c.ws.WriteJSON(map[string]any{"event": "pusher:pong", "data": map[string]any{}}); err != nil {
			return frame{}, fmt.Errorf("send pong: %w", err)
		}
	case "pusher:error":
		pe := &ProtocolError{}
		_ = json.Unmarshal(unwrapData(f.Data), pe)
		return frame{}, pe
	}
	return f, nil
}

// Next 阻塞直到收到订阅频道上的目标事件，返回事件数据。
func (c *Conn) Next() ([]byte, error) {
	for {
		f, err := c.read()
		if err != nil {
			return nil, err
		}
		if f.Event != c.cfg.Event || f.Channel != c.cfg.Channel {
			continue
		}
		return unwrapData(f.Data), nil
	}
}

func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}

// unwrapData 协议里 data 通常是 JSON 编码后的字符串，这里还原成内部的 JSON。
func unwrapData(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}
