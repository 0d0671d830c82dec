package app

import (
	redisclient "github.com/somnari/somnari-backend/internal/clients/redis"
	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/report"
	"github.com/somnari/somnari-backend/internal/services"
	"github.com/somnari/somnari-backend/internal/sse"
)

type Services struct {
	Cache         redisclient.ReportCache
	Aggregator    services.AggregatorService
	Enhancement   services.EnhancementClient
	ConsentBroker *services.ConsentBroker
	Notifier      *services.ReportNotifier
	ReportManager *report.Manager
}

func wireServices(cfg Config, reposet Repos, hub *sse.SSEHub, log *logger.Logger) (Services, error) {
	cache, err := redisclient.NewReportCache(log)
	if err != nil {
		return Services{}, err
	}

	lexicon, err := services.LoadLexicon(log)
	if err != nil {
		return Services{}, err
	}
	aggregator := services.NewAggregatorService(reposet.DreamEntries, reposet.ReportRecords, lexicon, cfg.ThemeCardinality, log)

	enhancement, err := services.NewEnhancementClient(log)
	if err != nil {
		return Services{}, err
	}

	broker := services.NewConsentBroker(log)
	notifier := services.NewReportNotifier(hub, log)

	manager := report.NewManager(report.Deps{
		Entries: reposet.DreamEntries,
		Store:   reposet.ReportRecords,
		Cache:   cache,
		Agg:     aggregator,
		Enhance: enhancement,
		Gate:    broker,
	}, notifier, cfg.Report, log)
	broker.SetResolver(manager)

	return Services{
		Cache:         cache,
		Aggregator:    aggregator,
		Enhancement:   enhancement,
		ConsentBroker: broker,
		Notifier:      notifier,
		ReportManager: manager,
	}, nil
}
