package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

const requestIDHeader = "X-Request-ID"

func requestID(c *gin.Context) string {
	return logging.CorrelationID(c.Request.Context())
}

// requestIDMiddleware propagates or assigns a request id and stores it as the
// correlation id of the request context
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.ContextWithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.respondError(c, common.RecoverHandler(r))
			}
		}()
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.WithContext(c.Request.Context()).LogPerformance("http_request", time.Since(start),
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}
