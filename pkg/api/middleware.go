package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crossgraph/rollup/pkg/errs"
)

const (
	headerTenantID      = "X-Tenant-ID"
	headerCorrelationID = "X-Correlation-ID"

	ctxTenantID      = "tenant_id"
	ctxCorrelationID = "correlation_id"
)

// requestLogger logs one line per request with latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"correlation_id", c.GetString(ctxCorrelationID))
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// correlationID propagates the caller's correlation id, minting one when
// absent. The id is echoed in the response and in error payloads.
func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerCorrelationID)
		if id == "" {
			id = "corr_" + uuid.NewString()
		}
		c.Set(ctxCorrelationID, id)
		c.Writer.Header().Set(headerCorrelationID, id)
		c.Next()
	}
}

// requireTenant rejects requests without a tenant header. Every data access
// below this middleware is tenant-scoped.
func requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(headerTenantID)
		if tenantID == "" {
			respondError(c, errs.NewValidationError("tenant", "X-Tenant-ID header is required"))
			c.Abort()
			return
		}
		c.Set(ctxTenantID, tenantID)
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(ctxTenantID)
}
