package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/expensio/expensio/internal/monitoring"
	"github.com/expensio/expensio/pkg/response"
)

// Health evaluates the registered dependency probes on every request. A down
// report answers 503 so load balancers stop routing traffic; degraded reports
// stay 200 because the service still serves requests from the database.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, gin.H{"status": "up"})
			return
		}

		report := manager.Evaluate(c.Request.Context())

		status := http.StatusOK
		if report.Status == monitoring.StatusDown {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, response.Response{
			Success: report.Status != monitoring.StatusDown,
			Data:    report,
		})
	}
}
