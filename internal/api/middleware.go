package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/metrics"
)

// requestContext copies the request id and hop count into the request
// context so outbound calls carry them on. A missing id is generated.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(cluster.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(cluster.RequestIDHeader, id)

		ctx := cluster.WithRequestID(c.Request.Context(), id)
		ctx = cluster.WithHops(ctx, cluster.ParseHops(c.GetHeader(cluster.HopsHeader)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// accessLog logs each request once it completes and records its latency.
func accessLog(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())

		level := slog.LevelInfo
		if route == "/health" || route == "/metrics" {
			level = slog.LevelDebug
		}
		logger.LogAttrs(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", elapsed),
			slog.Int("hops", cluster.HopsFrom(c.Request.Context())),
			slog.String("request_id", cluster.RequestIDFrom(c.Request.Context())))
	}
}

// rateLimit rejects requests above rps with 429.
func rateLimit(rps float64, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
