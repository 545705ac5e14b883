package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orneryd/skulddb/pkg/graph"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAddEntity(c *gin.Context) {
	var req EntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.metrics.ingestErrors.WithLabelValues("entity", "bad_request").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	entity, err := req.Entity()
	if err != nil {
		s.metrics.ingestErrors.WithLabelValues("entity", "bad_request").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := s.db.AddEntity(entity); err != nil {
		s.metrics.ingestErrors.WithLabelValues("entity", "rejected").Inc()
		s.abortWithError(c, err)
		return
	}

	s.metrics.ingestTotal.WithLabelValues("entity").Inc()
	c.JSON(http.StatusCreated, AcceptedResponse{ID: string(entity.ID)})
}

func (s *Server) handleAddRelation(c *gin.Context) {
	var req RelationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.metrics.ingestErrors.WithLabelValues("relation", "bad_request").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	relation, err := req.Relation()
	if err != nil {
		s.metrics.ingestErrors.WithLabelValues("relation", "bad_request").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := s.db.AddRelation(relation); err != nil {
		s.metrics.ingestErrors.WithLabelValues("relation", "rejected").Inc()
		s.abortWithError(c, err)
		return
	}

	s.metrics.ingestTotal.WithLabelValues("relation").Inc()
	c.JSON(http.StatusCreated, AcceptedResponse{ID: string(relation.ID)})
}

func (s *Server) handleListEntities(c *gin.Context) {
	c.JSON(http.StatusOK, s.db.Entities())
}

// handleKinds publishes the closed kind enums so producers can validate
// payloads without hardcoding the lists.
func (s *Server) handleKinds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entity_kinds":   graph.EntityKinds(),
		"relation_kinds": graph.RelationKinds(),
	})
}

func (s *Server) handleGetEntity(c *gin.Context) {
	entity, err := s.db.GetEntity(graph.EntityID(c.Param("id")))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.db.Stats())
}

func (s *Server) handleDiscover(c *gin.Context) {
	window, ok := s.durationQuery(c, "window", time.Hour)
	if !ok {
		return
	}
	s.runAnalytics(c, "discover", func() (any, error) {
		return s.db.DiscoverCausalRelationships(c.Request.Context(), window)
	})
}

func (s *Server) handleBuildChains(c *gin.Context) {
	maxLength := 0
	if raw := c.Query("max_length"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "max_length must be an integer"})
			return
		}
		maxLength = parsed
	}
	s.runAnalytics(c, "chains", func() (any, error) {
		return s.db.BuildCausalChains(c.Request.Context(), maxLength)
	})
}

func (s *Server) handleMinePatterns(c *gin.Context) {
	s.runAnalytics(c, "patterns", func() (any, error) {
		return s.db.DiscoverTemporalPatterns()
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	horizon, ok := s.durationQuery(c, "horizon", 24*time.Hour)
	if !ok {
		return
	}
	s.runAnalytics(c, "predictions", func() (any, error) {
		return s.db.PredictFutureEvents(horizon)
	})
}

// durationQuery parses an optional duration query parameter. On a
// malformed value it writes the error response and reports false.
func (s *Server) durationQuery(c *gin.Context, name string, fallback time.Duration) (time.Duration, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: name + " must be a duration like 30m or 2h",
		})
		return 0, false
	}
	return d, true
}
