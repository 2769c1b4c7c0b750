// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides correlation IDs, structured access logging, and
// panic-safe recovery:
//
//   - RequestID() guarantees every request carries an X-Request-ID,
//     generated when the client sent none.
//   - Logger() emits one structured zerolog line per request with latency,
//     status, and sizes, and stores a request-scoped logger in the Gin
//     context for handlers to enrich.
//   - Recovery() converts panics into JSON 500 responses, preserving the
//     correlation ID and logging the stack.
//   - LoggerFrom() retrieves the request-scoped logger.
//
// Order matters: RequestID, then Logger, then Recovery, so panics are
// logged with the correlation ID attached.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// RequestID attaches or propagates a correlation identifier per request.
// The ID is echoed on the response header and stored in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log per request and injects a
// request-scoped logger carrying the request ID, method, and path.
// Level selection: 5xx logs error, 4xx warn, everything else info.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		reqLog := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Set(loggerKey, reqLog)

		c.Next()

		status := c.Writer.Status()
		evt := reqLog.Info()
		switch {
		case status >= http.StatusInternalServerError:
			evt = reqLog.Error()
		case status >= http.StatusBadRequest:
			evt = reqLog.Warn()
		}
		evt.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes", c.Writer.Size()).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// Recovery converts panics into JSON 500 responses with the request ID and
// logs the stack trace.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				lg := LoggerFrom(c)
				lg.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"request_id": c.Writer.Header().Get(requestIDHeader),
					"code":       "internal_error",
					"message":    "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// the Logger middleware did not run (e.g. in isolated handler tests).
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(zerolog.Logger); ok {
			return &lg
		}
	}
	return &log.Logger
}

// asString coerces the context value to a string, empty on mismatch.
func asString(v any) string {
	s, _ := v.(string)
	return s
}
