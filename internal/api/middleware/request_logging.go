package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vramgate/vramgate/internal/metrics"
)

// RequestLogging logs one line per request at debug level and feeds the
// request counter. It sits after recovery and before auth so rejected
// requests are still visible.
func RequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		metrics.RequestsTotal.WithLabelValues(c.FullPath(), statusLabel(status)).Inc()

		log.Debugf("%s %s -> %d (%s) request_id=%s",
			c.Request.Method,
			c.Request.URL.Path,
			status,
			time.Since(start).Round(time.Millisecond),
			c.GetString(ContextKeyRequestID),
		)
	}
}

func statusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
