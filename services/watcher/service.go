package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"

	"github.com/inboxpilot/mailagent/config"
	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/repository"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/internal/utils"
)

// accountWatcher is the state of one long-lived mailbox connection.
type accountWatcher struct {
	account *models.Account
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	status interfaces.WatcherStatus
	// seen dedups message ids within the connection session, on top of
	// the durable store-level dedup
	seen map[string]struct{}
}

func (w *accountWatcher) updateStatus(mutate func(*interfaces.WatcherStatus)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	mutate(&w.status)
}

func (w *accountWatcher) currentStatus() interfaces.WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *accountWatcher) markSeen(messageID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[messageID]; ok {
		return false
	}
	w.seen[messageID] = struct{}{}
	return true
}

func (w *accountWatcher) resetSession() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]struct{})
}

type watcherService struct {
	log              logger.Logger
	cfg              *config.WatcherConfig
	repositories     *repository.Repositories
	parser           interfaces.MessageParser
	filter           interfaces.FilterService
	triage           interfaces.TriageService
	transportFactory interfaces.TransportFactory
	publisher        interfaces.EventPublisher
	archive          interfaces.ArchiveStorage

	transportBackoffMin time.Duration
	transportBackoffMax time.Duration
	authBackoffMin      time.Duration
	authBackoffMax      time.Duration

	mu       sync.Mutex
	watchers map[string]*accountWatcher
	rootCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewWatcherService(
	log logger.Logger,
	cfg *config.WatcherConfig,
	repositories *repository.Repositories,
	parser interfaces.MessageParser,
	filter interfaces.FilterService,
	triage interfaces.TriageService,
	transportFactory interfaces.TransportFactory,
	publisher interfaces.EventPublisher,
	archive interfaces.ArchiveStorage,
) interfaces.WatcherService {
	return &watcherService{
		log:              log,
		cfg:              cfg,
		repositories:     repositories,
		parser:           parser,
		filter:           filter,
		triage:           triage,
		transportFactory: transportFactory,
		publisher:        publisher,
		archive:          archive,

		transportBackoffMin: time.Second,
		transportBackoffMax: 2 * time.Minute,
		authBackoffMin:      time.Minute,
		authBackoffMax:      10 * time.Minute,

		watchers: make(map[string]*accountWatcher),
	}
}

func (s *watcherService) Start(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WatcherService.Start")
	defer span.Finish()
	tracing.TagComponentService(span)

	s.mu.Lock()
	if s.rootCtx == nil {
		s.rootCtx, s.cancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	accounts, err := s.repositories.AccountRepository.List(ctx, true)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogKV("accounts", len(accounts))

	for _, account := range accounts {
		if err := s.AddAccount(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}

func (s *watcherService) Stop() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.watchers = make(map[string]*accountWatcher)
	s.rootCtx = nil
	s.cancel = nil
	s.mu.Unlock()
	return nil
}

func (s *watcherService) AddAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.watchers[account.ID]; exists {
		return nil
	}
	if s.rootCtx == nil {
		s.rootCtx, s.cancel = context.WithCancel(context.Background())
	}

	watcherCtx, cancel := context.WithCancel(s.rootCtx)
	watcher := &accountWatcher{
		account: account,
		cancel:  cancel,
		done:    make(chan struct{}),
		seen:    make(map[string]struct{}),
	}
	s.watchers[account.ID] = watcher

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(watcher.done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("[%s] watcher panicked: %v", account.ID, r)
			}
		}()
		s.run(watcherCtx, watcher)
	}()

	s.log.Infof("[%s] watcher started for %s", account.ID, account.EmailAddress)
	return nil
}

func (s *watcherService) RemoveAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	watcher, exists := s.watchers[accountID]
	if exists {
		delete(s.watchers, accountID)
	}
	s.mu.Unlock()

	if !exists {
		return nil
	}

	watcher.cancel()
	select {
	case <-watcher.done:
	case <-time.After(30 * time.Second):
		s.log.Warnf("[%s] watcher did not stop in time", accountID)
	}
	return nil
}

func (s *watcherService) Status() map[string]interfaces.WatcherStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]interfaces.WatcherStatus, len(s.watchers))
	for id, watcher := range s.watchers {
		statuses[id] = watcher.currentStatus()
	}
	return statuses
}

// run is one account's connection loop. Transport failures reconnect with
// unbounded exponential backoff; auth failures burn a bounded retry
// budget and then stop the watcher for good.
func (s *watcherService) run(ctx context.Context, watcher *accountWatcher) {
	account := watcher.account

	transportBackoff := &backoff.Backoff{Min: s.transportBackoffMin, Max: s.transportBackoffMax, Factor: 1.5, Jitter: true}
	authBackoff := &backoff.Backoff{Min: s.authBackoffMin, Max: s.authBackoffMax, Factor: 2}
	authFailures := 0

	for ctx.Err() == nil {
		transport := s.transportFactory(account)
		err := transport.Connect(ctx)
		if err != nil {
			if errs.IsAuth(err) {
				authFailures++
				watcher.updateStatus(func(status *interfaces.WatcherStatus) {
					status.Connected = false
					status.AuthFailures = authFailures
					status.LastError = err.Error()
				})
				s.log.Warnf("[%s] authentication failed (%d/%d): %v", account.ID, authFailures, s.cfg.AuthRetryBudget, err)
				s.updateConnection(account.ID, enum.ConnectionNotActive, err)

				if authFailures >= s.cfg.AuthRetryBudget {
					watcher.updateStatus(func(status *interfaces.WatcherStatus) {
						status.Stopped = true
					})
					s.updateConnection(account.ID, enum.ConnectionDisabled, err)
					s.log.Errorf("[%s] auth retry budget exhausted, stopping watcher permanently", account.ID)
					return
				}
				if !sleepCtx(ctx, authBackoff.Duration()) {
					return
				}
				continue
			}

			watcher.updateStatus(func(status *interfaces.WatcherStatus) {
				status.Connected = false
				status.LastError = err.Error()
			})
			s.log.Warnf("[%s] connection failed, retrying: %v", account.ID, err)
			if !sleepCtx(ctx, transportBackoff.Duration()) {
				return
			}
			continue
		}

		authFailures = 0
		authBackoff.Reset()
		transportBackoff.Reset()
		watcher.resetSession()
		watcher.updateStatus(func(status *interfaces.WatcherStatus) {
			status.Connected = true
			status.AuthFailures = 0
			status.LastError = ""
		})
		s.updateConnection(account.ID, enum.ConnectionActive, nil)

		err = s.watchLoop(ctx, watcher, transport)
		_ = transport.Close()

		if ctx.Err() != nil {
			return
		}

		watcher.updateStatus(func(status *interfaces.WatcherStatus) {
			status.Connected = false
			if err != nil {
				status.LastError = err.Error()
			}
		})
		if err != nil {
			s.log.Warnf("[%s] watch loop ended, reconnecting: %v", account.ID, err)
			s.updateConnection(account.ID, enum.ConnectionNotActive, err)
		}
		if !sleepCtx(ctx, transportBackoff.Duration()) {
			return
		}
	}
}

// watchLoop alternates between catching up since the cursor and waiting
// for the server to signal new mail. The idle timeout doubles as a
// safety net against missed notifications.
func (s *watcherService) watchLoop(ctx context.Context, watcher *accountWatcher, transport interfaces.MailTransport) error {
	idleTimeout := time.Duration(s.cfg.IdleTimeoutSeconds) * time.Second

	for {
		if err := s.ingestSince(ctx, watcher, transport); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := transport.WaitForNewMail(ctx, idleTimeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// ingestSince lists messages since the account cursor (widened by the
// safety margin for the server-side date query), re-filters them
// precisely, stores the accepted ones and advances the cursor.
func (s *watcherService) ingestSince(ctx context.Context, watcher *accountWatcher, transport interfaces.MailTransport) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WatcherService.ingestSince")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, watcher.account.ID)

	account := watcher.account

	watcher.updateStatus(func(status *interfaces.WatcherStatus) {
		status.LastChecked = utils.Now()
	})

	since, err := s.resolveSince(ctx, account.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("since", since.Format(time.RFC3339))

	queryFrom := since.Add(-time.Duration(s.cfg.SafetyMarginHours) * time.Hour)
	raws, err := transport.ListSince(ctx, queryFrom)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("listed", len(raws))
	if len(raws) == 0 {
		return nil
	}

	rules, err := s.repositories.RuleRepository.GetForAccount(ctx, account.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	parsed := make([]*models.Message, 0, len(raws))
	sources := make(map[string][]byte, len(raws))
	for _, raw := range raws {
		message, err := s.parser.Parse(raw.Source)
		if err != nil {
			s.log.Warnf("[%s] skipping unparseable message uid %d: %v", account.ID, raw.UID, err)
			continue
		}
		message.AccountID = account.ID
		parsed = append(parsed, message)
		sources[message.MessageID] = raw.Source
	}

	// oldest first so the cursor never jumps past an unstored message
	sort.SliceStable(parsed, func(i, j int) bool {
		left, right := parsed[i].ReceivedAt, parsed[j].ReceivedAt
		if left == nil || right == nil {
			return right != nil
		}
		return left.Before(*right)
	})

	ingested := 0
	for _, message := range parsed {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// the server-side SINCE query is date-granular and widened by the
		// safety margin; only messages strictly after the cursor count
		if message.ReceivedAt == nil || !message.ReceivedAt.After(since) {
			continue
		}
		if !watcher.markSeen(message.MessageID) {
			continue
		}

		created, err := s.storeIfAccepted(ctx, watcher, message, rules, sources[message.MessageID])
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if created {
			ingested++
		}

		if err := s.repositories.CursorRepository.Advance(ctx, account.ID, *message.ReceivedAt); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	span.SetTag("ingested", ingested)

	if ingested > 0 && s.cfg.TriageOnIngest {
		if err := s.triage.ProcessPending(ctx, account.ID); err != nil {
			s.log.Errorf("[%s] triage after ingest failed: %v", account.ID, err)
		}
	}
	return nil
}

// storeIfAccepted runs the whitelist and persists the message when it
// passes. Duplicate message ids are a quiet no-op.
func (s *watcherService) storeIfAccepted(ctx context.Context, watcher *accountWatcher, message *models.Message, rules []*models.WhitelistRule, source []byte) (bool, error) {
	account := watcher.account

	accepted, err := s.filter.Accepts(ctx, message, rules)
	if err != nil {
		s.log.Warnf("[%s] filter degraded for message %s: %v", account.ID, message.MessageID, err)
	}
	if !accepted {
		return false, nil
	}

	created, err := s.repositories.MessageRepository.Create(ctx, message)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	s.log.Infof("[%s] ingested message %s from %s", account.ID, message.MessageID, message.FromAddress)

	if s.archive != nil && source != nil {
		if err := s.archive.Upload(ctx, message.ID, source, "message/rfc822"); err != nil {
			s.log.Warnf("[%s] failed to archive raw message %s: %v", account.ID, message.ID, err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishMessageStored(ctx, dto.MessageStored{
			AccountID:  account.ID,
			MessageID:  message.MessageID,
			Subject:    message.Subject,
			From:       message.FromAddress,
			ReceivedAt: message.ReceivedAt,
		}); err != nil {
			s.log.Warnf("[%s] failed to publish stored event for %s: %v", account.ID, message.MessageID, err)
		}
	}
	return true, nil
}

// resolveSince returns the cursor watermark, or now minus the lookback
// window for accounts watched for the first time.
func (s *watcherService) resolveSince(ctx context.Context, accountID string) (time.Time, error) {
	cursor, err := s.repositories.CursorRepository.Get(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}
	if cursor != nil && !cursor.LastProcessedAt.IsZero() {
		return cursor.LastProcessedAt, nil
	}
	return utils.Now().AddDate(0, 0, -s.cfg.LookbackDays), nil
}

// Sweep runs one reconciliation pass per account over a fresh
// connection, catching anything a missed IDLE notification left behind.
func (s *watcherService) Sweep(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WatcherService.Sweep")
	defer span.Finish()
	tracing.TagComponentService(span)

	s.mu.Lock()
	watchers := make([]*accountWatcher, 0, len(s.watchers))
	for _, watcher := range s.watchers {
		watchers = append(watchers, watcher)
	}
	s.mu.Unlock()

	var firstErr error
	for _, watcher := range watchers {
		if watcher.currentStatus().Stopped {
			continue
		}
		if err := s.sweepAccount(ctx, watcher); err != nil {
			s.log.Errorf("[%s] sweep failed: %v", watcher.account.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *watcherService) sweepAccount(ctx context.Context, watcher *accountWatcher) error {
	transport := s.transportFactory(watcher.account)
	if err := transport.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = transport.Close() }()

	return s.ingestSince(ctx, watcher, transport)
}

func (s *watcherService) updateConnection(accountID string, status enum.ConnectionStatus, connErr error) {
	message := ""
	if connErr != nil {
		message = connErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repositories.AccountRepository.UpdateConnectionStatus(ctx, accountID, status, message); err != nil {
		s.log.Errorf("[%s] failed to update connection status: %v", accountID, err)
	}
}

// sleepCtx waits for d, returning false when the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
