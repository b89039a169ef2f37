package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/soundgrab/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// StatusReporter exposes orchestrator state for health checks.
type StatusReporter interface {
	Stats() models.ConcurrencyStats
	Strategies() []string
	HasCredentials() bool
}

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when every concurrency slot is taken.
func Health(sr StatusReporter, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := sr.Stats()

		status := "healthy"
		if stats.MaxInFlight > 0 && stats.InFlight >= stats.MaxInFlight {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:      status,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Concurrency: stats,
			Strategies:  sr.Strategies(),
			Credentials: sr.HasCredentials(),
			Version:     Version,
		})
	}
}
