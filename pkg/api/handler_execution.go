package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/services"
)

// executeRollupHandler handles POST /api/v1/rollups/:id/execute. The
// execution is accepted and queued; progress flows through events and
// GET /executions/:id.
func (s *Server) executeRollupHandler(c *gin.Context) {
	var req services.ExecuteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, errs.NewValidationError("body", "invalid JSON: "+err.Error()))
			return
		}
	}

	exec, err := s.rollups.Execute(c.Request.Context(), tenantID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, exec)
}

// getExecutionHandler handles GET /api/v1/executions/:id.
func (s *Server) getExecutionHandler(c *gin.Context) {
	view, err := s.rollups.GetExecutionResult(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// cancelExecutionHandler handles POST /api/v1/executions/:id/cancel.
// Cancellation is cooperative: the request flags the execution and returns;
// the worker finalizes it at the next check.
func (s *Server) cancelExecutionHandler(c *gin.Context) {
	if err := s.rollups.Cancel(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// listDeadLettersHandler handles GET /api/v1/dead-letters.
func (s *Server) listDeadLettersHandler(c *gin.Context) {
	limit := 50
	offset := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := s.orc.ListDeadLetters(c.Request.Context(), tenantID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// retryDeadLetterHandler handles POST /api/v1/dead-letters/:id/retry.
func (s *Server) retryDeadLetterHandler(c *gin.Context) {
	if err := s.orc.RetryDeadLetter(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "retry queued"})
}

// discardDeadLetterHandler handles POST /api/v1/dead-letters/:id/discard.
func (s *Server) discardDeadLetterHandler(c *gin.Context) {
	if err := s.orc.DiscardDeadLetter(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "discarded"})
}
