package probe

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caskli/dbguard/health"
)

// Liveness returns a handler for K8s liveness probes. It runs only
// the aggregator's cheap boolean checks.
func Liveness(serviceName string, agg *health.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := agg.SimpleCheck(c.Request.Context())

		httpStatus := http.StatusOK
		if s.Status != "healthy" {
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, gin.H{
			"status":    s.Status,
			"service":   serviceName,
			"checks":    s.Checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Readiness returns a handler for K8s readiness probes. Degraded
// still serves traffic; only unhealthy and critical report not ready.
func Readiness(serviceName string, agg *health.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep := agg.Report(c.Request.Context())

		status := "ready"
		httpStatus := http.StatusOK
		if rep.Overall == health.StatusUnhealthy || rep.Overall == health.StatusCritical {
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, gin.H{
			"status":    status,
			"overall":   rep.Overall,
			"service":   serviceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Diagnostics returns a handler serving the full aggregated report,
// including per-component detail, alerts, and degradation state.
func Diagnostics(agg *health.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep := agg.Report(c.Request.Context())

		httpStatus := http.StatusOK
		if rep.Overall == health.StatusUnhealthy || rep.Overall == health.StatusCritical {
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, rep)
	}
}

// Register mounts the probe endpoints on the router.
func Register(r gin.IRouter, serviceName string, agg *health.Aggregator) {
	r.GET("/health/live", Liveness(serviceName, agg))
	r.GET("/health/ready", Readiness(serviceName, agg))
	r.GET("/health", Diagnostics(agg))
}
