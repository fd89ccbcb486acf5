package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	synchandler "github.com/lumehealth/lume-sync/internal/handler/sync"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

// New builds the diagnostics router. It binds to loopback only; there
// is no auth layer because the daemon never listens externally.
func New(db *sqlx.DB, handler *synchandler.Handler, reg prometheus.Gatherer, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		sync := v1.Group("/sync")
		{
			sync.GET("/status", handler.GetStatus)
			sync.GET("/failed", handler.ListFailed)
			sync.GET("/audit", handler.RunAudit)
			sync.POST("/audit/cleanup", handler.CleanupOrphans)
		}
	}

	return r
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}
