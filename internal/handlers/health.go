package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbvault/kbvault/internal/monitoring"
	"github.com/kbvault/kbvault/pkg/response"
)

// Health evaluates the registered probes. Only a down report (for example an unreachable
// storage root) answers 503; a degraded one still answers 200.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, monitoring.HealthReport{Success: true, Status: monitoring.StatusUp})
			return
		}

		report := manager.Evaluate(requestContext(c))
		status := http.StatusOK
		if report.Status == monitoring.StatusDown {
			status = http.StatusServiceUnavailable
		}
		response.Success(c, status, report)
	}
}
