package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"stagecast/server/internal/bridge"
)

// handleStream 把 relay 订阅桥接为 SSE。
func (s *Server) handleStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx, done := s.trackStream(c.Request.Context())
	defer done()

	s.runBridge(ctx, "sse", &sseEmitter{w: c.Writer})
}

// handleWebSocket 把 relay 订阅桥接为 WebSocket，帧内容与 SSE 相同。
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("[API] websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, done := s.trackStream(c.Request.Context())
	defer done()

	// 观众端不发数据，读循环只用来发现断开和处理 pong。
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.runBridge(readCtx, "ws", &wsEmitter{conn: conn})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func (s *Server) runBridge(ctx context.Context, kind string, em bridge.Emitter) {
	b := bridge.New(bridge.Config{
		Relay:     s.deps.Relay,
		Channel:   s.deps.Channel,
		KeepAlive: s.deps.KeepAlive,
		Kind:      kind,
		Logger:    s.log,
		Metrics:   s.deps.Metrics,
	})
	if err := b.Run(ctx, em); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Str("kind", kind).Msg("[API] ⚠️ stream ended with upstream error")
	}
}

// trackStream 登记一条推送连接，CloseStreams 时统一取消。
func (s *Server) trackStream(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	id := ulid.Make().String()

	s.streamsMu.Lock()
	s.streams[id] = cancel
	s.streamsMu.Unlock()

	return ctx, func() {
		cancel()
		s.streamsMu.Lock()
		delete(s.streams, id)
		s.streamsMu.Unlock()
	}
}

// ActiveStreams 返回当前推送连接数。
func (s *Server) ActiveStreams() int {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	return len(s.streams)
}

// CloseStreams 取消所有推送连接。http.Server.Shutdown 不会等长连接自己结束。
func (s *Server) CloseStreams() {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	for _, cancel := range s.streams {
		cancel()
	}
}

type sseEmitter struct {
	w gin.ResponseWriter
}

func (e *sseEmitter) Emit(payload []byte) error {
	if err := sse.Encode(e.w, sse.Event{Data: string(payload)}); err != nil {
		return err
	}
	e.w.Flush()
	return nil
}

func (e *sseEmitter) KeepAlive() error {
	if _, err := e.w.WriteString(": keep-alive\n\n"); err != nil {
		return err
	}
	e.w.Flush()
	return nil
}

type wsEmitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

const wsWriteTimeout = 10 * time.Second

func (e *wsEmitter) Emit(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return e.conn.WriteMessage(websocket.TextMessage, payload)
}

func (e *wsEmitter) KeepAlive() error {
	return e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}
