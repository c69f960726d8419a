package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/looplj/agentpay/internal/contexts"
	"github.com/looplj/agentpay/internal/tracing"
)

const requestIDHeader = "AP-Request-Id"

// WithLoggingTracing saves the trace ID and request ID to the request context,
// so every log entry of the request carries them.
func WithLoggingTracing(config tracing.Config) gin.HandlerFunc {
	traceHeader := config.TraceHeader
	if traceHeader == "" {
		traceHeader = "AP-Trace-Id"
	}

	return func(c *gin.Context) {
		traceID := c.GetHeader(traceHeader)
		if traceID == "" {
			traceID = tracing.GenerateTraceID()
		}

		requestID := tracing.GenerateRequestID()

		c.Header(traceHeader, traceID)
		c.Header(requestIDHeader, requestID)

		ctx := tracing.WithTraceID(c.Request.Context(), traceID)
		ctx = contexts.WithRequestID(ctx, requestID)
		ctx = tracing.WithOperationName(ctx, fmt.Sprintf("%s %s", c.Request.Method, c.FullPath()))

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
