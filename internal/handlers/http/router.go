package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"studiolink/internal/infrastructure/middleware"
	"studiolink/internal/infrastructure/monitoring"
	"studiolink/pkg/config"
	"studiolink/pkg/logger"
)

// RouterDeps collects what the control API is built from. Health and
// Gatherer are optional.
type RouterDeps struct {
	Config   *config.Config
	Logger   *zap.SugaredLogger
	Auth     middleware.APITokenValidator
	Studio   *StudioHandler
	Health   *monitoring.HealthChecker
	Gatherer prometheus.Gatherer
}

// NewRouter wires middleware, the studio API under /api/v1 and the
// operational endpoints.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(deps.Logger),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(deps.Logger.Desugar())),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(deps.Logger),
		middleware.NewHTTPRateLimitMiddleware(deps.Config),
	)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(deps.Auth))
	deps.Studio.SetupRoutes(api)

	if deps.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			status := deps.Health.CheckAll(c.Request.Context())
			c.JSON(statusCode(status), status)
		})
		router.GET("/ready", func(c *gin.Context) {
			status := deps.Health.GetReadinessStatus(c.Request.Context())
			c.JSON(statusCode(status), status)
		})
	}

	if deps.Config.Monitoring.PrometheusEnabled {
		gatherer := deps.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

func statusCode(status monitoring.HealthStatus) int {
	if status.Status == monitoring.StatusHealthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
