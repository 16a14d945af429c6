package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stagecast/server/internal/metrics"
	"stagecast/server/internal/model"
	"stagecast/server/internal/publish"
	"stagecast/server/internal/relay"
	"stagecast/server/internal/store"
)

// ContentReader 由 store.ContentStore 实现。
type ContentReader interface {
	Get(ctx context.Context) (*model.VersionedContent, error)
	Peek(ctx context.Context) (*model.VersionedContent, error)
}

// Publisher 由 publish.Gate 实现。
type Publisher interface {
	Publish(ctx context.Context, raw []byte, authHeader string) (publish.Result, error)
	Authorize(header string) bool
}

// PusherTester 由 pusher.Trigger 实现。Pusher 未启用时保持 nil。
type PusherTester interface {
	SendTest(ctx context.Context, message, timestamp string) error
}

type Deps struct {
	Content ContentReader
	Gate    Publisher
	Relay   relay.Relay
	Channel string
	Pusher  PusherTester

	Viewer      model.ViewerSettings
	KeepAlive   time.Duration
	CORSOrigins []string

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

type Server struct {
	deps Deps
	log  zerolog.Logger

	// streams 管理所有活跃的推送连接 (connection id -> cancel)
	streams   map[string]context.CancelFunc
	streamsMu sync.Mutex

	upgrader websocket.Upgrader
}

func NewServer(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		log:     deps.Logger,
		streams: make(map[string]context.CancelFunc),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), s.corsMiddleware())

	engine.GET("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	engine.POST("/content/publish", s.handlePublish)
	engine.GET("/content/current", s.handleCurrent)
	engine.GET("/poll", s.handlePoll)
	engine.GET("/stream", s.handleStream)
	engine.GET("/ws", s.handleWebSocket)
	engine.POST("/pusher/test", s.handlePusherTest)
	engine.GET("/config/viewer", s.handleViewerConfig)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": s.ActiveStreams()})
}

// handlePublish 处理发布：401 为纯文本，校验失败 400 带 details。
func (s *Server) handlePublish(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": []string{"unreadable body"}})
		return
	}

	res, err := s.deps.Gate.Publish(c.Request.Context(), raw, c.GetHeader("x-admin-token"))
	if err != nil {
		var verr *publish.ValidationError
		switch {
		case errors.Is(err, publish.ErrUnauthorized):
			c.String(http.StatusUnauthorized, "Unauthorized")
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": verr.Details})
		default:
			s.log.Error().Err(err).Msg("[API] ❌ publish failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleCurrent 返回当前内容，第一次访问时懒创建默认内容。
func (s *Server) handleCurrent(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	content, err := s.deps.Content.Get(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("[API] ❌ read current content failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read content"})
		return
	}
	c.JSON(http.StatusOK, content)
}

// handlePoll 只有版本不同（或调用方没有版本）时才返回内容。
func (s *Server) handlePoll(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	last := c.Query("lastVersion")

	content, err := s.deps.Content.Peek(c.Request.Context())
	if errors.Is(err, store.ErrNotFound) {
		s.deps.Metrics.RecordPoll("none")
		c.JSON(http.StatusOK, model.PollResult{HasUpdate: false})
		return
	}
	if err != nil {
		s.deps.Metrics.RecordPoll("error")
		s.log.Error().Err(err).Msg("[API] ❌ poll failed")
		c.JSON(http.StatusInternalServerError, model.PollResult{HasUpdate: false, Error: "Server error"})
		return
	}

	if last == "" || content.Version != last {
		s.deps.Metrics.RecordPoll("update")
		c.JSON(http.StatusOK, model.PollResult{HasUpdate: true, Content: content})
		return
	}
	s.deps.Metrics.RecordPoll("none")
	c.JSON(http.StatusOK, model.PollResult{HasUpdate: false})
}

type pusherTestRequest struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// handlePusherTest 在内容频道上发一条测试事件，用来检查 Pusher 配置。
func (s *Server) handlePusherTest(c *gin.Context) {
	if !s.deps.Gate.Authorize(c.GetHeader("x-admin-token")) {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}
	if s.deps.Pusher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pusher not configured"})
		return
	}

	var req pusherTestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if req.Message == "" {
		req.Message = "pusher test"
	}

	if err := s.deps.Pusher.SendTest(c.Request.Context(), req.Message, req.Timestamp); err != nil {
		s.log.Error().Err(err).Msg("[API] ❌ pusher test failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "test event sent"})
}

// handleViewerConfig 返回观众端的公开配置。
func (s *Server) handleViewerConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Viewer)
}
