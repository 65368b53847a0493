package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/schema-registry/internal/http/response"
	"github.com/yungbote/schema-registry/internal/platform/ctxutil"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

const statusClientClosed = 499

// RequestLogger writes one line per request once the handler chain has finished.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := requestFields(c, status, time.Since(start))
		switch {
		case status == statusClientClosed:
			log.Info("HTTP request canceled", fields...)
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

func requestFields(c *gin.Context, status int, took time.Duration) []interface{} {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []interface{}{
		"method", c.Request.Method,
		"route", route,
		"status", status,
		"duration_ms", took.Milliseconds(),
	}
	ctx := c.Request.Context()
	if td := ctxutil.GetTraceData(ctx); td != nil {
		fields = append(fields, "trace_id", td.TraceID, "request_id", td.RequestID)
	}
	if actor, ok := ctxutil.GetActor(ctx); ok {
		// actor_id is hashed by the logger.
		fields = append(fields, "actor_id", actor.UserID)
		if actor.SessionID != "" {
			fields = append(fields, "session_id", actor.SessionID)
		}
	}
	for _, p := range []string{"target_id", "check_id", "version_id"} {
		if v := c.Param(p); v != "" {
			fields = append(fields, p, v)
		}
	}
	if code := c.GetString(response.ErrorCodeKey); code != "" {
		fields = append(fields, "error_code", code)
	}
	return fields
}
