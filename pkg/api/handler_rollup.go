package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/models"
)

// createRollupHandler handles POST /api/v1/rollups.
func (s *Server) createRollupHandler(c *gin.Context) {
	var cfg models.RollupConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, errs.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}

	created, err := s.rollups.Create(c.Request.Context(), tenantID(c), &cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// getRollupHandler handles GET /api/v1/rollups/:id.
func (s *Server) getRollupHandler(c *gin.Context) {
	cfg, err := s.rollups.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// updateRollupHandler handles PUT /api/v1/rollups/:id. The expected version
// comes from the If-Match header or the body's version field.
func (s *Server) updateRollupHandler(c *gin.Context) {
	var cfg models.RollupConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, errs.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}
	cfg.ID = c.Param("id")

	expectedVersion := cfg.Version
	if v := c.GetHeader("If-Match"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			respondError(c, errs.NewValidationError("If-Match", "must be an integer version"))
			return
		}
		expectedVersion = parsed
	}
	if expectedVersion <= 0 {
		respondError(c, errs.NewValidationError("version", "expected version is required"))
		return
	}

	updated, err := s.rollups.Update(c.Request.Context(), tenantID(c), &cfg, expectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteRollupHandler handles DELETE /api/v1/rollups/:id.
func (s *Server) deleteRollupHandler(c *gin.Context) {
	if err := s.rollups.Delete(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listRollupsHandler handles GET /api/v1/rollups.
func (s *Server) listRollupsHandler(c *gin.Context) {
	filters := models.RollupFilters{
		Status: models.RollupStatus(c.Query("status")),
		Name:   c.Query("name"),
	}

	if v := c.Query("sort_by"); v != "" {
		switch v {
		case "created_at", "updated_at", "name":
			filters.SortBy = v
		default:
			respondError(c, errs.NewValidationError("sort_by", "must be created_at, updated_at, or name"))
			return
		}
	}
	filters.SortDesc = c.Query("sort_order") == "desc"

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	result, err := s.rollups.List(c.Request.Context(), tenantID(c), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
