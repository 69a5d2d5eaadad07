package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailpipe/internal/handler"
	"mailpipe/internal/store"
)

// Handlers groups the API handlers mounted under /api.
type Handlers struct {
	Email      *handler.EmailHandler
	Draft      *handler.DraftHandler
	Preference *handler.PreferenceHandler
}

// BrokerStatus reports whether the broker connection is up.
type BrokerStatus interface {
	IsConnected() bool
}

func NewRouter(h Handlers, st store.RecordStore, broker BrokerStatus, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(LoggingMiddleware(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(503, gin.H{"status": "store_not_ready", "error": err.Error()})
			return
		}
		if broker != nil && !broker.IsConnected() {
			c.JSON(503, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/emails/seed", h.Email.Seed)
		api.GET("/emails/ignored", h.Email.ListIgnored)

		api.GET("/drafts", h.Draft.List)
		api.GET("/drafts/:id", h.Draft.Get)
		api.PATCH("/drafts/:id", h.Draft.Update)
		api.PATCH("/drafts/:id/reject", h.Draft.Reject)
		api.PATCH("/drafts/:id/skip", h.Draft.Skip)

		api.GET("/preferences/ignores", h.Preference.GetIgnores)
		api.PUT("/preferences/ignores", h.Preference.PutIgnores)
		api.GET("/preferences/signoff", h.Preference.GetSignoff)
		api.PUT("/preferences/signoff", h.Preference.PutSignoff)
	}

	return r
}
