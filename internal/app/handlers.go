package app

import (
	"github.com/somnari/somnari-backend/internal/handlers"
	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/sse"
)

type Handlers struct {
	Healthcheck *handlers.HealthcheckHandler
	Entry       *handlers.EntryHandler
	Report      *handlers.ReportHandler
	Consent     *handlers.ConsentHandler
	SSE         *handlers.SSEHandler
}

func wireHandlers(reposet Repos, serviceset Services, hub *sse.SSEHub, log *logger.Logger) Handlers {
	return Handlers{
		Healthcheck: handlers.NewHealthcheckHandler(),
		Entry:       handlers.NewEntryHandler(reposet.DreamEntries, reposet.ReportRecords, serviceset.ReportManager, log),
		Report:      handlers.NewReportHandler(reposet.ReportRecords, serviceset.Cache, serviceset.ReportManager, log),
		Consent:     handlers.NewConsentHandler(serviceset.ConsentBroker, log),
		SSE:         handlers.NewSSEHandler(hub, log),
	}
}
