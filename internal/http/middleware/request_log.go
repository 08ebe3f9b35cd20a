package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/forge-backend/internal/platform/ctxutil"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

// RequestLogger logs one line per request once the handler chain returns.
// Server errors log at error level and client errors at warn.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"bytes", c.Writer.Size(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			kv = append(kv, "trace_id", td.TraceID, "request_id", td.RequestID)
		}
		if tenant := c.Param("tenant_id"); tenant != "" {
			kv = append(kv, "tenant_id", tenant)
		}
		if wf := c.Param("workflow_id"); wf != "" {
			kv = append(kv, "workflow", wf)
		}
		if last := c.Errors.Last(); last != nil {
			kv = append(kv, "error", last.Err)
		}

		switch {
		case status >= 500:
			log.Error("Request failed", kv...)
		case status >= 400:
			log.Warn("Request rejected", kv...)
		default:
			log.Info("Request served", kv...)
		}
	}
}
