package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger 用 zerolog 记录每个请求。长连接在断开时才记录。
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := s.log.Info()
		if status >= http.StatusInternalServerError {
			ev = s.log.Error()
		} else if c.FullPath() == "/healthz" || c.FullPath() == "/metrics" {
			ev = s.log.Debug()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("[API] request")
	}
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.deps.CORSOrigins, "*") || slices.Contains(s.deps.CORSOrigins, origin)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Content-Type, x-admin-token")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
