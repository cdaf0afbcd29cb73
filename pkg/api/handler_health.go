package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crossgraph/rollup/pkg/database"
)

// healthHandler handles GET /healthz. The orchestrator and database
// sections degrade independently; the endpoint is unauthenticated and
// carries no tenant data.
func (s *Server) healthHandler(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "healthy"}

	if s.orc != nil {
		body["orchestrator"] = s.orc.Health()
	}
	if s.cache != nil {
		body["cache"] = s.cache.Stats()
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(ctx, s.db)
		body["database"] = dbHealth
		if err != nil {
			body["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, body)
}
