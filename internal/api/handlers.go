package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/directory"
	"github.com/dreamware/thingdir/internal/monitor"
	"github.com/dreamware/thingdir/internal/query"
)

// ErrorResponse is the body of every failed directory call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError answers 400 and logs the failure with its kind.
func (s *Server) respondError(c *gin.Context, op string, err error) {
	s.logger.Warn("request failed",
		slog.String("op", op),
		slog.String("kind", directory.Kind(err)),
		slog.String("request_id", cluster.RequestIDFrom(c.Request.Context())),
		slog.String("error", err.Error()))
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

// reject answers a request that never reached the service.
func (s *Server) reject(c *gin.Context, op string, err error) {
	s.metrics.RecordOpError(op, directory.Kind(err))
	s.respondError(c, op, err)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node": s.svc.Name()})
}

// InfoResponse is the body of /info.
type InfoResponse struct {
	directory.Info
	Neighbors map[string]monitor.NeighborHealth `json:"neighbors,omitempty"`
}

func (s *Server) handleInfo(c *gin.Context) {
	resp := InfoResponse{Info: s.svc.Info()}
	if s.monitor != nil {
		resp.Neighbors = s.monitor.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNeighborHealth(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusOK, map[string]monitor.NeighborHealth{})
		return
	}
	c.JSON(http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleRegister(c *gin.Context) {
	var req cluster.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, "register", directory.Validation("invalid register body: %v", err))
		return
	}
	if err := s.svc.Register(c.Request.Context(), req); err != nil {
		s.respondError(c, "register", err)
		return
	}
	c.String(http.StatusOK, "Created")
}

func (s *Server) handleAggregateAdd(c *gin.Context) {
	var u cluster.AggregateUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		s.reject(c, "update_aggregate", directory.Validation("invalid update body: %v", err))
		return
	}
	s.updateAggregate(c, u, true)
}

func (s *Server) handleAggregateRemove(c *gin.Context) {
	var u cluster.AggregateUpdate
	if err := c.ShouldBindQuery(&u); err != nil {
		s.reject(c, "update_aggregate", directory.Validation("invalid update query: %v", err))
		return
	}
	s.updateAggregate(c, u, false)
}

func (s *Server) updateAggregate(c *gin.Context, u cluster.AggregateUpdate, add bool) {
	if err := s.svc.UpdateAggregate(c.Request.Context(), u, add); err != nil {
		s.respondError(c, "update_aggregate", err)
		return
	}
	c.String(http.StatusOK, "Updated")
}

func (s *Server) handleAdjacent(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Adjacent())
}

func (s *Server) handleSearch(c *gin.Context) {
	req := directory.SearchRequest{
		Location:  c.Query("location"),
		Type:      c.Query("thing_type"),
		ID:        c.Query("thing_id"),
		Iterative: truthy(c.Query("iterative")),
	}
	res, err := s.svc.Search(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, "search", err)
		return
	}
	if res.Redirect != "" {
		c.Header("Location", res.Redirect)
		c.String(http.StatusFound, res.Redirect)
		return
	}
	c.JSON(http.StatusOK, res.Records)
}

// truthy treats any non-empty value other than an explicit false as set.
func truthy(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.svc.Delete(c.Request.Context(), c.Query("thing_id"), c.Query("location")); err != nil {
		s.respondError(c, "delete", err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleRelocate(c *gin.Context) {
	var req cluster.RelocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, "relocate", directory.Validation("invalid relocate body: %v", err))
		return
	}
	if err := s.svc.Relocate(c.Request.Context(), req); err != nil {
		s.respondError(c, "relocate", err)
		return
	}
	c.String(http.StatusOK, "Relocated")
}

func (s *Server) handleCustomQuery(c *gin.Context) {
	script, err := query.Parse(c.Query("data"))
	if err != nil {
		s.reject(c, "custom_query", directory.Validation("%v", err))
		return
	}
	res, err := s.svc.CustomQuery(c.Request.Context(), script)
	if err != nil {
		s.respondError(c, "custom_query", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
