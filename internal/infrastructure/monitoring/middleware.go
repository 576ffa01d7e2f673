package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records every RPC request. Paths with no route share the
// "unmatched" label.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
			max(c.Request.ContentLength, 0),
			int64(max(c.Writer.Size(), 0)),
		)
	}
}

// Stage times one pipeline stage.
type Stage struct {
	metrics *Metrics
	name    string
	start   time.Time
}

// StartStage starts timing stage. m may be nil.
func StartStage(m *Metrics, stage string) Stage {
	return Stage{metrics: m, name: stage, start: time.Now()}
}

// Done records the stage as "ok" or "error" depending on err.
func (s Stage) Done(err error) time.Duration {
	d := time.Since(s.start)
	if s.metrics == nil {
		return d
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordStage(s.name, outcome, d)
	return d
}
