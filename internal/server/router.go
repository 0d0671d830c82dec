package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/somnari/somnari-backend/internal/handlers"
	"github.com/somnari/somnari-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName string

	Healthcheck *handlers.HealthcheckHandler
	Entry       *handlers.EntryHandler
	Report      *handlers.ReportHandler
	Consent     *handlers.ConsentHandler
	SSE         *handlers.SSEHandler

	Auth *middleware.AuthMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
	}))

	r.GET("/healthz", cfg.Healthcheck.Healthz)

	// The gate provider calls back without a user token; sessions are
	// addressed by their opaque id.
	r.POST("/api/consent/:sessionID/:outcome", cfg.Consent.Callback)

	api := r.Group("/api", cfg.Auth.RequireAuth())
	{
		api.POST("/entries", cfg.Entry.Create)
		api.GET("/entries", cfg.Entry.ListWeek)
		api.DELETE("/entries/:entryID", cfg.Entry.Delete)
		api.GET("/reports/:weekKey", cfg.Report.Get)
		api.POST("/reports/:weekKey/reload", cfg.Report.Reload)
		api.POST("/reports/:weekKey/upgrade", cfg.Report.Upgrade)
		api.GET("/sse", cfg.SSE.Stream)
	}

	return r
}
