package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/edupoints/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const headerRequestID = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to its public type and code.
	ErrorClassifier func(err error) (string, string)
}

// Routes whose successful calls are only interesting when debugging.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Routes where a 4xx is a normal admission answer rather than a caller bug.
var admissionRoutes = map[string]bool{
	"/api/v1/deductions": true,
	"/api/v1/admissions": true,
}

// GinMiddleware assigns the request id, then logs one http_request line per
// call with the admission outcome when the handler set one.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if kind := c.GetString("usage_kind"); kind != "" {
			fields = append(fields, zap.String("usage_kind", kind))
		}
		if outcome := c.GetString("admission_outcome"); outcome != "" {
			fields = append(fields, zap.String("outcome", outcome))
		}

		classified := false
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			errorType, errorCode := cfg.ErrorClassifier(lastErr.Err)
			classified = errorType != ""
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		if ce := log.Check(requestLevel(route, status, classified), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// requestIDFor reuses an upstream id so gateway and engine logs join up.
func requestIDFor(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(headerRequestID, requestID)
	return requestID
}

func requestLevel(route string, status int, classified bool) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case quietRoutes[route]:
		return zapcore.DebugLevel
	case admissionRoutes[route] && status >= http.StatusBadRequest && classified:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
