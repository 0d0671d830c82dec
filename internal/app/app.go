package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/somnari/somnari-backend/internal/db"
	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/middleware"
	"github.com/somnari/somnari-backend/internal/observability"
	"github.com/somnari/somnari-backend/internal/server"
	"github.com/somnari/somnari-backend/internal/sse"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	SSEHub   *sse.SSEHub

	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	theDB := pg.DB()

	hub := sse.NewSSEHub(log)
	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(cfg, reposet, hub, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(reposet, serviceset, hub, log)
	auth := middleware.NewAuthMiddleware(cfg.JWTSecretKey, log)

	router := server.NewRouter(server.RouterConfig{
		ServiceName: cfg.ServiceName,
		Healthcheck: handlerset.Healthcheck,
		Entry:       handlerset.Entry,
		Report:      handlerset.Report,
		Consent:     handlerset.Consent,
		SSE:         handlerset.SSE,
		Auth:        auth,
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		SSEHub:       hub,
		otelShutdown: otelShutdown,
	}, nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Starting HTTP server", "addr", a.Cfg.Addr)
	return a.Router.Run(a.Cfg.Addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Services.ReportManager != nil {
		a.Services.ReportManager.CloseAll()
	}
	if a.Services.Cache != nil {
		_ = a.Services.Cache.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
