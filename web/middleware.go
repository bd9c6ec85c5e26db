package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gosom/registre-express/logger"
)

const requestIDHeader = "X-Request-ID"

// requestID tags every request with an id, honouring one supplied by the
// caller, and propagates it through the request context for log correlation.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func getRequestID(c *gin.Context) string {
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}

	return ""
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"request_id", getRequestID(c),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		ctx := c.Request.Context()

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error(ctx, "request failed", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn(ctx, "request error", attrs...)
		default:
			logger.Info(ctx, "request", attrs...)
		}
	}
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered",
					"request_id", getRequestID(c),
					"error", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal server error",
					"request_id": getRequestID(c),
				})
			}
		}()

		c.Next()
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type rateLimiter struct {
	mu       sync.Mutex
	counts   map[string]int
	window   time.Duration
	limit    int
	lastSeen time.Time
}

// rateLimit caps requests per client ip inside a fixed window. Counters reset
// wholesale when the window rolls over, which is coarse but cheap.
func rateLimit(limit int, window time.Duration) gin.HandlerFunc {
	rl := &rateLimiter{
		counts:   make(map[string]int),
		window:   window,
		limit:    limit,
		lastSeen: time.Now(),
	}

	return func(c *gin.Context) {
		rl.mu.Lock()

		if time.Since(rl.lastSeen) > rl.window {
			rl.counts = make(map[string]int)
			rl.lastSeen = time.Now()
		}

		ip := c.ClientIP()
		rl.counts[ip]++
		count := rl.counts[ip]

		rl.mu.Unlock()

		if count > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"request_id": getRequestID(c),
			})
			return
		}

		c.Next()
	}
}
