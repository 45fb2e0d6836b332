package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/septivank/irrigation-sync-worker/internal/service"
	"go.uber.org/zap"
)

// Handler exposes the worker's admin endpoints
type Handler struct {
	runner   service.Runner
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewHandler constructs a new admin handler
func NewHandler(runner service.Runner, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	return &Handler{runner: runner, gatherer: gatherer, logger: logger}
}

// InitRoutes builds the gin router
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	sync := router.Group("/sync")
	{
		sync.POST("/run", h.runSync)
	}

	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// runSync performs a run in the request and answers with its report.
// The run is detached from the client connection so a dropped request does not abort it midway.
func (h *Handler) runSync(c *gin.Context) {
	report, err := h.runner.RunOnce(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("on-demand sync run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
	default:
		c.JSON(http.StatusAccepted, report)
	}
}
