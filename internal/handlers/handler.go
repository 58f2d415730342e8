package handlers

import (
	"transformer_monitor/internal/logger"
	"transformer_monitor/internal/metrics"
	"transformer_monitor/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Options carries the optional HTTP-layer dependencies.
type Options struct {
	// Gatherer backs /metrics; the route is not registered when nil.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.HTTP

	// RateLimit is requests per second per client on /api; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	opts     Options
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger, opts Options) *Handler {
	return &Handler{services: services, log: log, opts: opts}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.metricsMiddleware)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)

	if h.opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	h.registerAPIRoutes(router)

	// Browser state stream, same port.
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	var mw []gin.HandlerFunc
	if h.opts.RateLimit > 0 {
		mw = append(mw, newRateLimiter(h.opts.RateLimit, h.opts.RateBurst).middleware(h.opts.Metrics))
	}
	api := r.Group("/api/v1", mw...)
	{
		h.registerTransformerRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerTransformerRoutes(api *gin.RouterGroup) {
	transformer := api.Group("/transformer")
	{
		transformer.GET("/state", h.getState)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
