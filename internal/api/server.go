// Package api exposes a directory node over HTTP with gin.
//
// Directory endpoints live under a configurable prefix (default "/api"):
//
//	POST   /register            {td, location, publicity}
//	POST   /update_aggregate    {thing_type, location}
//	DELETE /update_aggregate    ?thing_type&location
//	GET    /adjacent_directory
//	GET    /search              ?location&thing_type&thing_id&iterative
//	DELETE /delete              ?location&thing_id
//	POST   /relocate            {thing_id, from, to}
//	GET    /custom_query        ?data=<json script>
//
// Operational endpoints sit at the root: /health, /info, /metrics and
// /neighbors/health. /health is also served under the prefix so that a
// neighbor's API base URL is enough to probe it.
//
// Every directory error is answered with 400 and {"error": "..."}.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dreamware/thingdir/internal/directory"
	"github.com/dreamware/thingdir/internal/metrics"
	"github.com/dreamware/thingdir/internal/monitor"
)

// DefaultPrefix is the mount point of the directory endpoints.
const DefaultPrefix = "/api"

// Config wires a Server. Service is required.
type Config struct {
	Service     *directory.Service
	Monitor     *monitor.Monitor // nil hides neighbor health
	Prefix      string
	ServiceName string // span name prefix for otelgin; defaults to "thingdir"

	// Inbound rate limit in requests per second; zero disables it.
	RateLimit float64
	RateBurst int

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // served on /metrics; nil uses the default registry
}

// Server is the HTTP front of one directory node.
type Server struct {
	svc     *directory.Service
	monitor *monitor.Monitor
	logger  *slog.Logger
	metrics *metrics.Metrics
	engine  *gin.Engine
	prefix  string
	http    *http.Server
}

// New builds the gin engine and registers every route.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := "/" + strings.Trim(cfg.Prefix, "/")
	if prefix == "/" {
		prefix = DefaultPrefix
	}
	name := cfg.ServiceName
	if name == "" {
		name = "thingdir"
	}

	s := &Server{
		svc:     cfg.Service,
		monitor: cfg.Monitor,
		logger:  logger,
		metrics: cfg.Metrics,
		prefix:  prefix,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(name))
	engine.Use(requestContext())
	engine.Use(accessLog(logger, cfg.Metrics))
	if cfg.RateLimit > 0 {
		engine.Use(rateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/info", s.handleInfo)
	engine.GET("/neighbors/health", s.handleNeighborHealth)
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := engine.Group(prefix)
	{
		api.GET("/health", s.handleHealth)
		api.POST("/register", s.handleRegister)
		api.POST("/update_aggregate", s.handleAggregateAdd)
		api.DELETE("/update_aggregate", s.handleAggregateRemove)
		api.GET("/adjacent_directory", s.handleAdjacent)
		api.GET("/search", s.handleSearch)
		api.DELETE("/delete", s.handleDelete)
		api.POST("/relocate", s.handleRelocate)
		api.GET("/custom_query", s.handleCustomQuery)
	}

	s.engine = engine
	s.http = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Prefix returns the mount point of the directory endpoints.
func (s *Server) Prefix() string { return s.prefix }

// ListenAndServe serves on addr until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	addr := ln.Addr().String()
	s.logger.Info("directory node listening",
		slog.String("node", s.svc.Name()),
		slog.String("addr", addr),
		slog.String("prefix", s.prefix))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
