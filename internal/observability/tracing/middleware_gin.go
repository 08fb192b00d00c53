package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/edupoints/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "edupoints/http"

// GinMiddleware opens a server span per request, continuing any trace the
// caller propagated. The span is named after the matched route once the
// handler has run.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(SafeAttributes(requestAttributes(c, route)...)...)

		status := c.Writer.Status()
		lastErr := c.Errors.Last()
		switch {
		case status >= http.StatusInternalServerError:
			if lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		case lastErr != nil:
			// Rejections and bad input are answers, not span failures.
			span.AddEvent("request.rejected", trace.WithAttributes(
				attribute.Int("http.response.status_code", status),
			))
		}
	}
}

func requestAttributes(c *gin.Context, route string) []attribute.KeyValue {
	ctx := c.Request.Context()
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", c.Writer.Status()),
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if scope := obscontext.ScopeFromContext(ctx); scope != "" {
		attrs = append(attrs, attribute.String("edupoints.scope", scope))
	}
	if kind := c.GetString("usage_kind"); kind != "" {
		attrs = append(attrs, attribute.String("edupoints.usage_kind", kind))
	}
	if outcome := c.GetString("admission_outcome"); outcome != "" {
		attrs = append(attrs, attribute.String("edupoints.outcome", outcome))
	}
	return attrs
}
