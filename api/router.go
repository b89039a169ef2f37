package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/soundgrab/api/handler"
	"github.com/use-agent/soundgrab/api/middleware"
	"github.com/use-agent/soundgrab/assembler"
	"github.com/use-agent/soundgrab/cache"
	"github.com/use-agent/soundgrab/config"
)

// Service is everything the routes need from the orchestrator.
type Service interface {
	handler.Fetcher
	handler.StatusReporter
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics are outside auth so monitoring probes always work.
func NewRouter(svc Service, asm *assembler.Assembler, cc *cache.Cache, gatherer prometheus.Gatherer, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(svc, startTime))
	if gatherer != nil {
		v1.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/audio", handler.Audio(svc, asm))
	protected.POST("/metadata", handler.Metadata(svc, cc))

	return r
}
