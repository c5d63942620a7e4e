package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/afterschool-ops-api/pkg/middleware/requestid"
)

const startedAtKey = "request_started_at"

// WithResponseMeta stamps the request start so handlers can report processing time.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(startedAtKey, time.Now())
		c.Next()
	}
}

// ResponseMeta builds the envelope metadata for the current request.
func ResponseMeta(c *gin.Context) map[string]interface{} {
	meta := map[string]interface{}{}
	if c == nil {
		return meta
	}
	if v, exists := c.Get(startedAtKey); exists {
		if started, ok := v.(time.Time); ok {
			meta["processing_time_ms"] = time.Since(started).Milliseconds()
		}
	}
	if id := requestid.Value(c); id != "" {
		meta["request_id"] = id
	}
	return meta
}
