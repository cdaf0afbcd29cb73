package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crossgraph/rollup/pkg/errs"
)

// respondError writes the caller-safe error shape. Internal detail never
// reaches the wire; the correlation id links the response to the logs.
func respondError(c *gin.Context, err error) {
	safe := errs.ToSafeResponse(err, c.GetString(ctxCorrelationID))
	status := statusFor(safe.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"code", safe.Code,
			"correlation_id", safe.CorrelationID,
			"error", err)
	}
	c.JSON(status, safe)
}

func statusFor(code string) int {
	switch code {
	case "VALIDATION_ERROR", "CONFIGURATION_ERROR":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "CONFLICT":
		return http.StatusConflict
	case "EXECUTION_TIMEOUT":
		return http.StatusGatewayTimeout
	case "CIRCUIT_OPEN":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
