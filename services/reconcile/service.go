package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/config"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/repository"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/internal/utils"
)

// reconcileService re-evaluates an account's stored messages after its
// rule list changed: stored messages that no longer match are purged, and
// the recent mailbox window is re-listed to pick up messages the old
// rules rejected.
type reconcileService struct {
	log              logger.Logger
	cfg              *config.WatcherConfig
	repositories     *repository.Repositories
	parser           interfaces.MessageParser
	filter           interfaces.FilterService
	transportFactory interfaces.TransportFactory

	mu     sync.Mutex
	status interfaces.ReconcileStatus
}

func NewReconcileService(
	log logger.Logger,
	cfg *config.WatcherConfig,
	repositories *repository.Repositories,
	parser interfaces.MessageParser,
	filter interfaces.FilterService,
	transportFactory interfaces.TransportFactory,
) interfaces.ReconcileService {
	return &reconcileService{
		log:              log,
		cfg:              cfg,
		repositories:     repositories,
		parser:           parser,
		filter:           filter,
		transportFactory: transportFactory,
	}
}

func (s *reconcileService) Trigger(ctx context.Context, accountID string) (string, error) {
	s.mu.Lock()
	if s.status.Running {
		jobID := s.status.JobID
		s.mu.Unlock()
		return jobID, errors.New("a reconciliation run is already in progress")
	}
	jobID := uuid.New().String()
	s.status = interfaces.ReconcileStatus{Running: true, Progress: "starting", JobID: jobID}
	s.mu.Unlock()

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		s.runJob(runCtx, accountID, jobID)
	}()

	return jobID, nil
}

func (s *reconcileService) Status() interfaces.ReconcileStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *reconcileService) setProgress(progress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Progress = progress
}

func (s *reconcileService) finish(progress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	s.status.Progress = progress
}

func (s *reconcileService) runJob(ctx context.Context, accountID, jobID string) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ReconcileService.runJob")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("job.id", jobID)

	s.log.Infof("[%s] reconciliation %s started", accountID, jobID)

	rules, err := s.repositories.RuleRepository.GetForAccount(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		s.finish("failed: " + err.Error())
		return
	}

	purged, err := s.purgeNonMatching(ctx, accountID, rules)
	if err != nil {
		tracing.TraceErr(span, err)
		s.finish("failed: " + err.Error())
		return
	}
	span.SetTag("purged", purged)

	ingested, err := s.reingestWindow(ctx, accountID, rules)
	if err != nil {
		tracing.TraceErr(span, err)
		s.finish("failed: " + err.Error())
		return
	}
	span.SetTag("ingested", ingested)

	summary := fmt.Sprintf("completed: purged %d, ingested %d", purged, ingested)
	s.log.Infof("[%s] reconciliation %s %s", accountID, jobID, summary)
	s.finish(summary)
}

// purgeNonMatching deletes stored messages the current rules reject.
func (s *reconcileService) purgeNonMatching(ctx context.Context, accountID string, rules []*models.WhitelistRule) (int, error) {
	stored, err := s.repositories.MessageRepository.List(ctx, interfaces.MessageFilter{AccountID: accountID})
	if err != nil {
		return 0, err
	}

	var doomed []string
	for i, message := range stored {
		s.setProgress(fmt.Sprintf("evaluating stored messages %d/%d", i+1, len(stored)))

		accepted, err := s.filter.Accepts(ctx, message, rules)
		if err != nil {
			// an undecidable message is kept rather than purged
			s.log.Warnf("[%s] keeping message %s, filter failed: %v", accountID, message.MessageID, err)
			continue
		}
		if !accepted {
			doomed = append(doomed, message.ID)
		}
	}

	if len(doomed) == 0 {
		return 0, nil
	}
	if err := s.repositories.MessageRepository.DeleteByIDs(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// reingestWindow re-lists the lookback window and stores messages the new
// rules accept. The durable dedup makes already stored messages a no-op.
func (s *reconcileService) reingestWindow(ctx context.Context, accountID string, rules []*models.WhitelistRule) (int, error) {
	account, err := s.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, errors.Errorf("account %s not found", accountID)
	}

	s.setProgress("connecting to mailbox")
	transport := s.transportFactory(account)
	if err := transport.Connect(ctx); err != nil {
		return 0, err
	}
	defer func() { _ = transport.Close() }()

	since := utils.Now().AddDate(0, 0, -s.cfg.LookbackDays)
	raws, err := transport.ListSince(ctx, since)
	if err != nil {
		return 0, err
	}

	ingested := 0
	for i, raw := range raws {
		s.setProgress(fmt.Sprintf("re-ingesting mailbox %d/%d", i+1, len(raws)))

		message, err := s.parser.Parse(raw.Source)
		if err != nil {
			s.log.Warnf("[%s] skipping unparseable message uid %d: %v", accountID, raw.UID, err)
			continue
		}
		message.AccountID = accountID

		accepted, err := s.filter.Accepts(ctx, message, rules)
		if err != nil {
			s.log.Warnf("[%s] filter degraded for message %s: %v", accountID, message.MessageID, err)
		}
		if !accepted {
			continue
		}

		created, err := s.repositories.MessageRepository.Create(ctx, message)
		if err != nil {
			return ingested, err
		}
		if created {
			ingested++
		}
	}
	return ingested, nil
}
