package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/streamsight/observability"
	"github.com/kbukum/streamsight/version"
)

// HealthChecker reports the health of one collaborator (tracker, metric
// store, lock backend).
type HealthChecker = observability.HealthChecker

// Health returns a handler that aggregates the component checks. A down
// component turns the response into a 503.
func Health(serviceName string, checkers ...HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := observability.NewServiceHealth(serviceName, version.GetShortVersion())
		for _, checker := range checkers {
			sh.AddComponent(checker.CheckHealth(c.Request.Context()))
		}

		httpStatus := http.StatusOK
		if sh.Status == observability.HealthStatusDown {
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, gin.H{
			"status":     sh.Status,
			"service":    sh.Service,
			"version":    sh.Version,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"components": sh.Components,
		})
	}
}
