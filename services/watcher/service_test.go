package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/mailagent/config"
	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/repository"
	"github.com/inboxpilot/mailagent/services/filter"
)

type fakeAccountRepo struct {
	mu       sync.Mutex
	account  *models.Account
	statuses []enum.ConnectionStatus
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *models.Account) error { return nil }
func (r *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.account, nil
}
func (r *fakeAccountRepo) GetByEmailAddress(ctx context.Context, address string) (*models.Account, error) {
	return nil, nil
}
func (r *fakeAccountRepo) List(ctx context.Context, activeOnly bool) ([]*models.Account, error) {
	return []*models.Account{r.account}, nil
}
func (r *fakeAccountRepo) UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}
func (r *fakeAccountRepo) Deactivate(ctx context.Context, id string) error { return nil }

func (r *fakeAccountRepo) lastStatus() enum.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

type fakeCursorRepo struct {
	mu      sync.Mutex
	cursors map[string]time.Time
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{cursors: make(map[string]time.Time)}
}

func (r *fakeCursorRepo) Get(ctx context.Context, accountID string) (*models.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.cursors[accountID]; ok {
		return &models.Cursor{AccountID: accountID, LastProcessedAt: ts}, nil
	}
	return nil, nil
}

func (r *fakeCursorRepo) Advance(ctx context.Context, accountID string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.cursors[accountID]; ok && !ts.After(current) {
		return nil
	}
	r.cursors[accountID] = ts
	return nil
}

func (r *fakeCursorRepo) watermark(accountID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[accountID]
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	creates  int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*models.Message)}
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *models.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if _, exists := r.messages[message.MessageID]; exists {
		return false, nil
	}
	copied := *message
	r.messages[message.MessageID] = &copied
	return true, nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	return nil, nil
}

func (r *fakeMessageRepo) GetByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[messageID], nil
}

func (r *fakeMessageRepo) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.messages[messageID]
	return exists, nil
}

func (r *fakeMessageRepo) List(ctx context.Context, f interfaces.MessageFilter) ([]*models.Message, error) {
	return nil, nil
}

func (r *fakeMessageRepo) ListUnprocessed(ctx context.Context, accountID string, limit int) ([]*models.Message, error) {
	return nil, nil
}

func (r *fakeMessageRepo) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	return false, nil
}
func (r *fakeMessageRepo) ReleaseProcessing(ctx context.Context, id string) error    { return nil }
func (r *fakeMessageRepo) Update(ctx context.Context, message *models.Message) error { return nil }
func (r *fakeMessageRepo) ClearProcessed(ctx context.Context, accountID string) error {
	return nil
}
func (r *fakeMessageRepo) DeleteByIDs(ctx context.Context, ids []string) error { return nil }

func (r *fakeMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type fakeRuleRepo struct {
	rules []*models.WhitelistRule
}

func (r *fakeRuleRepo) GetForAccount(ctx context.Context, accountID string) ([]*models.WhitelistRule, error) {
	return r.rules, nil
}
func (r *fakeRuleRepo) ReplaceForAccount(ctx context.Context, accountID string, rules []*models.WhitelistRule) error {
	r.rules = rules
	return nil
}

type fakeTriage struct {
	mu   sync.Mutex
	runs int
}

func (t *fakeTriage) ProcessBatch(ctx context.Context, messages []*models.Message) []interfaces.TriageResult {
	return nil
}
func (t *fakeTriage) ProcessPending(ctx context.Context, accountID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	return nil
}
func (t *fakeTriage) SendDraft(ctx context.Context, messageID, draft string) error { return nil }

// scriptedTransport serves a fixed message set and fails Connect with the
// scripted errors first.
type scriptedTransport struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	messages    []interfaces.RawMessage
}

func (t *scriptedTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if len(t.connectErrs) > 0 {
		err := t.connectErrs[0]
		t.connectErrs = t.connectErrs[1:]
		return err
	}
	return nil
}

func (t *scriptedTransport) Close() error { return nil }

func (t *scriptedTransport) ListSince(ctx context.Context, since time.Time) ([]interfaces.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]interfaces.RawMessage(nil), t.messages...), nil
}

func (t *scriptedTransport) Fetch(ctx context.Context, messageID string) (*interfaces.RawMessage, error) {
	return nil, nil
}

func (t *scriptedTransport) WaitForNewMail(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return false, nil
	}
}

func (t *scriptedTransport) EnsureLabel(ctx context.Context, name string) (string, error) {
	return name, nil
}
func (t *scriptedTransport) ApplyLabel(ctx context.Context, messageID, label string) error {
	return nil
}
func (t *scriptedTransport) RemoveFromInbox(ctx context.Context, messageID string) error { return nil }
func (t *scriptedTransport) MarkRead(ctx context.Context, messageID string) error        { return nil }
func (t *scriptedTransport) Send(ctx context.Context, to []string, subject, body, inReplyTo string) error {
	return nil
}

func (t *scriptedTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// keyParser resolves raw sources to canned messages by their byte content.
type keyParser struct {
	byKey map[string]*models.Message
}

func (p *keyParser) Parse(raw []byte) (*models.Message, error) {
	message, ok := p.byKey[string(raw)]
	if !ok {
		return nil, errs.Parse(errors.Errorf("unknown message %q", raw))
	}
	copied := *message
	return &copied, nil
}

type stubAI struct{}

func (s *stubAI) Completion(ctx context.Context, request dto.CompletionRequest) (string, error) {
	return "deny", nil
}

type fixture struct {
	service     *watcherService
	accountRepo *fakeAccountRepo
	cursorRepo  *fakeCursorRepo
	messageRepo *fakeMessageRepo
	ruleRepo    *fakeRuleRepo
	triage      *fakeTriage
	transport   *scriptedTransport
	parser      *keyParser
}

func newFixture(t *testing.T, cfg *config.WatcherConfig) *fixture {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()

	f := &fixture{
		accountRepo: &fakeAccountRepo{account: &models.Account{ID: "acct_1", EmailAddress: "me@corp.com", Active: true}},
		cursorRepo:  newFakeCursorRepo(),
		messageRepo: newFakeMessageRepo(),
		ruleRepo:    &fakeRuleRepo{},
		triage:      &fakeTriage{},
		transport:   &scriptedTransport{},
		parser:      &keyParser{byKey: make(map[string]*models.Message)},
	}

	repos := &repository.Repositories{
		AccountRepository: f.accountRepo,
		CursorRepository:  f.cursorRepo,
		MessageRepository: f.messageRepo,
		RuleRepository:    f.ruleRepo,
	}
	factory := func(account *models.Account) interfaces.MailTransport { return f.transport }
	filterService := filter.NewFilterService(log, &stubAI{})

	f.service = NewWatcherService(log, cfg, repos, f.parser, filterService, f.triage, factory, nil, nil).(*watcherService)
	f.service.transportBackoffMin = time.Millisecond
	f.service.transportBackoffMax = 5 * time.Millisecond
	f.service.authBackoffMin = time.Millisecond
	f.service.authBackoffMax = 5 * time.Millisecond
	return f
}

func (f *fixture) addMessage(key, messageID string, receivedAt time.Time) {
	f.parser.byKey[key] = &models.Message{
		MessageID:   messageID,
		Subject:     "subject " + messageID,
		FromAddress: "sender@example.com",
		Body:        "body",
		ReceivedAt:  &receivedAt,
	}
	f.transport.mu.Lock()
	f.transport.messages = append(f.transport.messages, interfaces.RawMessage{UID: uint32(len(f.transport.messages) + 1), Source: []byte(key)})
	f.transport.mu.Unlock()
}

func defaultConfig() *config.WatcherConfig {
	return &config.WatcherConfig{
		LookbackDays:       5,
		SafetyMarginHours:  24,
		IdleTimeoutSeconds: 1,
		AuthRetryBudget:    3,
		TriageOnIngest:     false,
	}
}

func TestWatcher_IngestsAndAdvancesCursor(t *testing.T) {
	f := newFixture(t, defaultConfig())
	now := time.Now().UTC()
	f.addMessage("a", "a@example.com", now.Add(-2*time.Hour))
	f.addMessage("b", "b@example.com", now.Add(-1*time.Hour))

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	require.Eventually(t, func() bool { return f.messageRepo.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.cursorRepo.watermark("acct_1").Equal(now.Add(-1 * time.Hour))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWatcher_RepeatedListingsIngestOnce(t *testing.T) {
	f := newFixture(t, defaultConfig())
	now := time.Now().UTC()
	f.addMessage("a", "a@example.com", now.Add(-time.Hour))

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	// wait for several idle cycles, each of which re-lists the mailbox
	require.Eventually(t, func() bool { return f.messageRepo.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, 1, f.messageRepo.count())
	f.messageRepo.mu.Lock()
	creates := f.messageRepo.creates
	f.messageRepo.mu.Unlock()
	require.Equal(t, 1, creates, "duplicate listings must be filtered before hitting the store")
}

func TestWatcher_RejectsMessagesAtOrBeforeCursor(t *testing.T) {
	f := newFixture(t, defaultConfig())
	now := time.Now().UTC()
	watermark := now.Add(-time.Hour)
	require.NoError(t, f.cursorRepo.Advance(context.Background(), "acct_1", watermark))

	f.addMessage("old", "old@example.com", watermark.Add(-10*time.Minute))
	f.addMessage("exact", "exact@example.com", watermark)
	f.addMessage("new", "new@example.com", watermark.Add(10*time.Minute))

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	require.Eventually(t, func() bool { return f.messageRepo.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	exists, _ := f.messageRepo.ExistsByMessageID(context.Background(), "new@example.com")
	require.True(t, exists)
}

func TestWatcher_ConcurrentIngestStoresEachMessageOnce(t *testing.T) {
	f := newFixture(t, defaultConfig())
	now := time.Now().UTC()
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, id := range ids {
		f.addMessage(id, id+"@example.com", now.Add(time.Duration(i-len(ids))*time.Minute))
	}

	// two independent sessions racing over the same mailbox, as when a
	// sweep overlaps the watch loop
	first := &accountWatcher{account: f.accountRepo.account, seen: make(map[string]struct{})}
	second := &accountWatcher{account: f.accountRepo.account, seen: make(map[string]struct{})}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	for _, w := range []*accountWatcher{first, second} {
		wg.Add(1)
		go func(w *accountWatcher) {
			defer wg.Done()
			errCh <- f.service.ingestSince(context.Background(), w, f.transport)
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Equal(t, len(ids), f.messageRepo.count(), "each message id must be stored exactly once")
	require.True(t, f.cursorRepo.watermark("acct_1").Equal(now.Add(-time.Minute)))
}

func TestWatcher_CursorNeverMovesBackwards(t *testing.T) {
	f := newFixture(t, defaultConfig())
	now := time.Now().UTC()
	require.NoError(t, f.cursorRepo.Advance(context.Background(), "acct_1", now))

	// re-delivery with an older timestamp must not rewind the watermark
	require.NoError(t, f.cursorRepo.Advance(context.Background(), "acct_1", now.Add(-time.Hour)))

	require.True(t, f.cursorRepo.watermark("acct_1").Equal(now))
}

func TestWatcher_AuthBudgetStopsPermanently(t *testing.T) {
	f := newFixture(t, defaultConfig())
	authErr := errs.Auth(errors.New("invalid credentials"))
	f.transport.connectErrs = []error{authErr, authErr, authErr, authErr}

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	require.Eventually(t, func() bool {
		return f.service.Status()["acct_1"].Stopped
	}, 2*time.Second, 5*time.Millisecond)

	status := f.service.Status()["acct_1"]
	require.Equal(t, 3, status.AuthFailures)
	require.False(t, status.Connected)
	require.Equal(t, enum.ConnectionDisabled, f.accountRepo.lastStatus())

	// no further connection attempts after the permanent stop
	attempts := f.transport.connectCount()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, attempts, f.transport.connectCount())
}

func TestWatcher_TransportErrorsRetryWithoutStopping(t *testing.T) {
	f := newFixture(t, defaultConfig())
	connErr := errs.Transport(errors.New("connection refused"))
	f.transport.connectErrs = []error{connErr, connErr, connErr, connErr, connErr}

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	require.Eventually(t, func() bool {
		status := f.service.Status()["acct_1"]
		return status.Connected && !status.Stopped
	}, 2*time.Second, 5*time.Millisecond)

	require.Zero(t, f.service.Status()["acct_1"].AuthFailures)
}

func TestWatcher_SuccessfulConnectResetsAuthBudget(t *testing.T) {
	f := newFixture(t, defaultConfig())
	authErr := errs.Auth(errors.New("invalid credentials"))
	// two failures, then success: budget of three must never trip
	f.transport.connectErrs = []error{authErr, authErr}

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	require.Eventually(t, func() bool {
		return f.service.Status()["acct_1"].Connected
	}, 2*time.Second, 5*time.Millisecond)

	status := f.service.Status()["acct_1"]
	require.False(t, status.Stopped)
	require.Zero(t, status.AuthFailures)
}

func TestWatcher_WhitelistRejectionsAreNotStored(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.ruleRepo.rules = []*models.WhitelistRule{
		{ID: "rule_1", AccountID: "acct_1", Position: 0, Type: enum.RuleSender, Value: "boss@corp.com"},
	}
	now := time.Now().UTC()
	f.addMessage("a", "a@example.com", now.Add(-time.Hour))

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	// the message is evaluated and rejected; the cursor still advances
	require.Eventually(t, func() bool {
		return f.cursorRepo.watermark("acct_1").Equal(now.Add(-time.Hour))
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, f.messageRepo.count())
}

func TestWatcher_TriageOnIngestRunsPendingQueue(t *testing.T) {
	cfg := defaultConfig()
	cfg.TriageOnIngest = true
	f := newFixture(t, cfg)
	now := time.Now().UTC()
	f.addMessage("a", "a@example.com", now.Add(-time.Hour))

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	require.Eventually(t, func() bool {
		f.triage.mu.Lock()
		defer f.triage.mu.Unlock()
		return f.triage.runs >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWatcher_SweepIngestsMissedMail(t *testing.T) {
	f := newFixture(t, defaultConfig())

	require.NoError(t, f.service.AddAccount(context.Background(), f.accountRepo.account))
	defer func() { _ = f.service.Stop() }()

	require.Eventually(t, func() bool {
		return f.service.Status()["acct_1"].Connected
	}, 2*time.Second, 5*time.Millisecond)

	// mail that the idle loop was never notified about
	now := time.Now().UTC()
	f.addMessage("missed", "missed@example.com", now.Add(-time.Minute))

	require.NoError(t, f.service.Sweep(context.Background()))
	require.Eventually(t, func() bool {
		exists, _ := f.messageRepo.ExistsByMessageID(context.Background(), "missed@example.com")
		return exists
	}, 2*time.Second, 5*time.Millisecond)
}
