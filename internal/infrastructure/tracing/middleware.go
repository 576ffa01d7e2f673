package tracing

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Middleware opens a root span per RPC request, continuing the caller's
// trace when it sends X-Trace-ID, and echoes the ids back.
func Middleware(t *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithRemote(c.Request.Context(), c.GetHeader(HeaderTraceID), c.GetHeader(HeaderSpanID))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s, ctx := t.Start(ctx, c.Request.Method+" "+route)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, s.TraceID)
		c.Header(HeaderSpanID, s.SpanID)

		c.Next()

		code := c.Writer.Status()
		s.Annotate(zap.Int("http_status", code), zap.String("client_ip", c.ClientIP()))
		if len(c.Errors) > 0 {
			s.Fail(c.Errors.Last().Err)
		}
		t.End(s)
	}
}
