package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/railzwaylabs/revshare/internal/security/signing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	headerRequestID         = "X-Request-ID"
	headerInternalSignature = "X-CG-Signature"

	contextRequestIDKey = "request_id"

	maxBodyBytes = 1 << 20
)

func (s *Server) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextRequestIDKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveHTTP(c.Request.Method, route, status, elapsed)

		fields := []zap.Field{
			zap.String("request_id", c.GetString(contextRequestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("ip", c.ClientIP()),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if status >= http.StatusInternalServerError {
			s.log.Error("http request", fields...)
			return
		}
		s.log.Info("http request", fields...)
	}
}

func (s *Server) Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.log.Error("panic recovered",
			zap.String("request_id", c.GetString(contextRequestIDKey)),
			zap.Any("panic", recovered),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorBody{Type: "internal_error", Message: "internal error"}})
	})
}

// InternalSignatureRequired authenticates operator calls by the hex
// HMAC-SHA256 of the raw request body under the internal secret. The body is
// restored for the handler.
func (s *Server) InternalSignatureRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.Server.InternalSecret
		if strings.TrimSpace(secret) == "" {
			s.log.Warn("internal secret not configured, rejecting signed route")
			AbortWithError(c, ErrUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !signing.VerifyHex(body, c.GetHeader(headerInternalSignature), secret) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
