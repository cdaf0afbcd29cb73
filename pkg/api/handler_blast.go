package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crossgraph/rollup/pkg/blast"
	"github.com/crossgraph/rollup/pkg/errs"
)

// blastRadiusRequest selects the merged graph and seed nodes to traverse.
type blastRadiusRequest struct {
	ExecutionID      string   `json:"execution_id"`
	NodeIDs          []string `json:"node_ids"`
	MaxDepth         int      `json:"max_depth,omitempty"`
	IncludeCrossRepo bool     `json:"include_cross_repo,omitempty"`
}

// blastRadiusHandler handles POST /api/v1/blast-radius.
func (s *Server) blastRadiusHandler(c *gin.Context) {
	if s.blast == nil {
		respondError(c, errs.NewConfigurationError("blast radius engine is not enabled"))
		return
	}

	var req blastRadiusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}
	if req.ExecutionID == "" {
		respondError(c, errs.NewValidationError("execution_id", "required"))
		return
	}

	result, err := s.blast.Compute(c.Request.Context(), tenantID(c), req.ExecutionID, blast.Query{
		NodeIDs:          req.NodeIDs,
		MaxDepth:         req.MaxDepth,
		IncludeCrossRepo: req.IncludeCrossRepo,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
