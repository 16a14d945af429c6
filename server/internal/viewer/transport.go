package viewer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"stagecast/server/internal/pusher"
)

// Stream 是一条已打开的推送连接。Next 阻塞直到下一帧或出错；Close 让 Next 尽快返回。
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// LiveTransport 是一种推送方式，Open 在 ctx 结束前没有建立连接就应返回错误。
type LiveTransport interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}

// SSETransport 订阅服务端的 GET /stream。
type SSETransport struct {
	URL        string
	HTTPClient *http.Client
}

func (t *SSETransport) Name() string { return "sse" }

func (t *SSETransport) Open(ctx context.Context) (Stream, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := t.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if !stop() {
		// ctx 已经结束，即便连上了也不要了
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("open sse: %w", context.Cause(ctx))
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open sse: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open sse: status %d", resp.StatusCode)
	}
	return &sseStream{body: resp.Body, r: bufio.NewReader(resp.Body), cancel: cancel}, nil
}

type sseStream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
}

// Next 读一个完整的 SSE 事件，多行 data 用换行拼接。注释行（保活）被跳过。
func (s *sseStream) Next() ([]byte, error) {
	var data []string
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}

// WebSocketTransport 订阅服务端的 GET /ws。
type WebSocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Open(ctx context.Context) (Stream, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	}
	conn, resp, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial ws: status=%d err=%w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial ws: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() ([]byte, error) {
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

// PusherTransport 直接订阅 Pusher 频道，不经过本服务的推送流。
type PusherTransport struct {
	Config pusher.SubscriberConfig
}

func (t *PusherTransport) Name() string { return "pusher" }

func (t *PusherTransport) Open(ctx context.Context) (Stream, error) {
	conn, err := pusher.Dial(ctx, t.Config)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
