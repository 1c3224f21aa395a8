package services

import (
	"github.com/inboxpilot/mailagent/config"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/repository"
	"github.com/inboxpilot/mailagent/services/ai"
	"github.com/inboxpilot/mailagent/services/events"
	"github.com/inboxpilot/mailagent/services/filter"
	"github.com/inboxpilot/mailagent/services/imap"
	"github.com/inboxpilot/mailagent/services/parser"
	"github.com/inboxpilot/mailagent/services/reconcile"
	"github.com/inboxpilot/mailagent/services/storage"
	"github.com/inboxpilot/mailagent/services/triage"
	"github.com/inboxpilot/mailagent/services/watcher"
)

type Services struct {
	AIService        interfaces.AIService
	FilterService    interfaces.FilterService
	TriageService    interfaces.TriageService
	WatcherService   interfaces.WatcherService
	ReconcileService interfaces.ReconcileService
	EventPublisher   interfaces.EventPublisher
	ArchiveStorage   interfaces.ArchiveStorage
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	var publisher interfaces.EventPublisher
	if cfg.AppConfig.RabbitMQURL != "" {
		var err error
		publisher, err = events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log)
		if err != nil {
			return nil, err
		}
	}

	var archive interfaces.ArchiveStorage
	if cfg.ArchiveConfig.Enabled {
		var err error
		archive, err = storage.NewArchiveStorage(cfg.ArchiveConfig)
		if err != nil {
			return nil, err
		}
	}

	aiService := ai.NewAIService(cfg.AIConfig)
	filterService := filter.NewFilterService(log, aiService)
	messageParser := parser.NewMessageParser()
	transportFactory := imap.NewTransportFactory(log)

	triageService := triage.NewTriageService(log, cfg.TriageConfig, repos, aiService, transportFactory, publisher)
	watcherService := watcher.NewWatcherService(log, cfg.WatcherConfig, repos, messageParser, filterService, triageService, transportFactory, publisher, archive)
	reconcileService := reconcile.NewReconcileService(log, cfg.WatcherConfig, repos, messageParser, filterService, transportFactory)

	return &Services{
		AIService:        aiService,
		FilterService:    filterService,
		TriageService:    triageService,
		WatcherService:   watcherService,
		ReconcileService: reconcileService,
		EventPublisher:   publisher,
		ArchiveStorage:   archive,
	}, nil
}
