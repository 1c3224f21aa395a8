package triage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/mailagent/config"
	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/repository"
)

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*models.Message
}

func newFakeMessageRepo(messages ...*models.Message) *fakeMessageRepo {
	repo := &fakeMessageRepo{messages: make(map[string]*models.Message)}
	for _, message := range messages {
		copied := *message
		repo.messages[message.ID] = &copied
	}
	return repo
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *models.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.messages {
		if existing.MessageID == message.MessageID {
			return false, nil
		}
	}
	copied := *message
	r.messages[message.ID] = &copied
	return true, nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.messages[id]; ok {
		copied := *message
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeMessageRepo) GetByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, message := range r.messages {
		if message.MessageID == messageID {
			copied := *message
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	message, _ := r.GetByMessageID(ctx, messageID)
	return message != nil, nil
}

func (r *fakeMessageRepo) List(ctx context.Context, filter interfaces.MessageFilter) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Message
	for _, message := range r.messages {
		if filter.AccountID != "" && message.AccountID != filter.AccountID {
			continue
		}
		if filter.Processed != nil && message.Processed != *filter.Processed {
			continue
		}
		copied := *message
		result = append(result, &copied)
	}
	return result, nil
}

func (r *fakeMessageRepo) ListUnprocessed(ctx context.Context, accountID string, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Message
	for _, message := range r.messages {
		if message.AccountID != accountID || message.Processed || message.Processing {
			continue
		}
		copied := *message
		result = append(result, &copied)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *fakeMessageRepo) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.messages[id]
	if !ok || message.Processed || message.Processing {
		return false, nil
	}
	message.Processing = true
	return true, nil
}

func (r *fakeMessageRepo) ReleaseProcessing(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.messages[id]; ok {
		message.Processing = false
	}
	return nil
}

func (r *fakeMessageRepo) Update(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *message
	r.messages[message.ID] = &copied
	return nil
}

func (r *fakeMessageRepo) ClearProcessed(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, message := range r.messages {
		if message.AccountID == accountID {
			message.Processed = false
			message.Processing = false
		}
	}
	return nil
}

func (r *fakeMessageRepo) DeleteByIDs(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.messages, id)
	}
	return nil
}

func (r *fakeMessageRepo) get(id string) *models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[id]
}

type fakeAccountRepo struct {
	account *models.Account
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *models.Account) error { return nil }
func (r *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if r.account != nil && r.account.ID == id {
		return r.account, nil
	}
	return nil, nil
}
func (r *fakeAccountRepo) GetByEmailAddress(ctx context.Context, address string) (*models.Account, error) {
	return nil, nil
}
func (r *fakeAccountRepo) List(ctx context.Context, activeOnly bool) ([]*models.Account, error) {
	return []*models.Account{r.account}, nil
}
func (r *fakeAccountRepo) UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error {
	return nil
}
func (r *fakeAccountRepo) Deactivate(ctx context.Context, id string) error { return nil }

type fakeSettingRepo struct {
	values map[string]string
}

func (r *fakeSettingRepo) Get(ctx context.Context, key string) (string, error) {
	if r.values == nil {
		return "", nil
	}
	return r.values[key], nil
}
func (r *fakeSettingRepo) Put(ctx context.Context, key, value string) error {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	r.values[key] = value
	return nil
}

type fakeTransport struct {
	mu         sync.Mutex
	labeled    map[string]string
	archived   []string
	markedRead []string
	sent       []string
	failOps    bool

	inFlight int32
	overlap  int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{labeled: make(map[string]string)}
}

// enterCommand records whether two mailbox commands ever ran at the
// same time; real IMAP clients cannot survive that.
func (t *fakeTransport) enterCommand() func() {
	if atomic.AddInt32(&t.inFlight, 1) > 1 {
		atomic.StoreInt32(&t.overlap, 1)
	}
	time.Sleep(time.Millisecond)
	return func() { atomic.AddInt32(&t.inFlight, -1) }
}

func (t *fakeTransport) Connect(ctx context.Context) error { return nil }
func (t *fakeTransport) Close() error                      { return nil }
func (t *fakeTransport) ListSince(ctx context.Context, since time.Time) ([]interfaces.RawMessage, error) {
	return nil, nil
}
func (t *fakeTransport) Fetch(ctx context.Context, messageID string) (*interfaces.RawMessage, error) {
	return nil, nil
}
func (t *fakeTransport) WaitForNewMail(ctx context.Context, timeout time.Duration) (bool, error) {
	return false, nil
}
func (t *fakeTransport) EnsureLabel(ctx context.Context, name string) (string, error) {
	defer t.enterCommand()()
	if t.failOps {
		return "", errors.New("mailbox unavailable")
	}
	return name, nil
}
func (t *fakeTransport) ApplyLabel(ctx context.Context, messageID, label string) error {
	defer t.enterCommand()()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.labeled[messageID] = label
	return nil
}
func (t *fakeTransport) RemoveFromInbox(ctx context.Context, messageID string) error {
	defer t.enterCommand()()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.archived = append(t.archived, messageID)
	return nil
}
func (t *fakeTransport) MarkRead(ctx context.Context, messageID string) error {
	defer t.enterCommand()()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markedRead = append(t.markedRead, messageID)
	return nil
}
func (t *fakeTransport) Send(ctx context.Context, to []string, subject, body, inReplyTo string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, subject)
	return nil
}

type stubAI struct {
	response string
	err      error
}

func (s *stubAI) Completion(ctx context.Context, request dto.CompletionRequest) (string, error) {
	return s.response, s.err
}

func testLogger() logger.Logger {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	return log
}

func testAccount() *models.Account {
	return &models.Account{ID: "acct_1", EmailAddress: "me@corp.com"}
}

func testMessage(id, messageID string) *models.Message {
	received := time.Now().UTC().Add(-time.Hour)
	return &models.Message{
		ID:          id,
		AccountID:   "acct_1",
		MessageID:   messageID,
		Subject:     "Can we meet tomorrow?",
		FromAddress: "client@example.com",
		Body:        "Hi, can we meet tomorrow at 10?",
		ReceivedAt:  &received,
	}
}

func newService(messageRepo *fakeMessageRepo, ai interfaces.AIService, transport *fakeTransport) interfaces.TriageService {
	repos := &repository.Repositories{
		AccountRepository: &fakeAccountRepo{account: testAccount()},
		MessageRepository: messageRepo,
		SettingRepository: &fakeSettingRepo{},
	}
	factory := func(account *models.Account) interfaces.MailTransport { return transport }
	return NewTriageService(testLogger(), &config.TriageConfig{BatchSize: 5, DigestBudget: 1000}, repos, ai, factory, nil)
}

func TestProcessBatch_DraftAndLabel(t *testing.T) {
	messageRepo := newFakeMessageRepo(testMessage("msg_1", "m1@example.com"))
	transport := newFakeTransport()
	ai := &stubAI{response: `{"draft":"Sure, 10 works for me.","label":"Meetings"}`}
	service := newService(messageRepo, ai, transport)

	results := service.ProcessBatch(context.Background(), []*models.Message{testMessage("msg_1", "m1@example.com")})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, "drafted, labeled 'Meetings'", results[0].Action)

	stored := messageRepo.get("msg_1")
	require.True(t, stored.Processed)
	require.False(t, stored.Processing)
	require.Equal(t, "Sure, 10 works for me.", stored.Draft)
	require.Equal(t, "Meetings", transport.labeled["m1@example.com"])
	require.Contains(t, transport.markedRead, "m1@example.com")
	require.Empty(t, transport.archived)
}

func TestProcessBatch_EmptyActionsReviewed(t *testing.T) {
	messageRepo := newFakeMessageRepo(testMessage("msg_1", "m1@example.com"))
	transport := newFakeTransport()
	service := newService(messageRepo, &stubAI{response: "no json here"}, transport)

	results := service.ProcessBatch(context.Background(), []*models.Message{testMessage("msg_1", "m1@example.com")})

	require.NoError(t, results[0].Err)
	require.Equal(t, "reviewed (no action needed)", results[0].Action)
	require.True(t, messageRepo.get("msg_1").Processed)
	require.Empty(t, transport.labeled)
	require.Empty(t, transport.markedRead)
}

func TestProcessBatch_AgentFailureLeavesMessageRetryable(t *testing.T) {
	messageRepo := newFakeMessageRepo(testMessage("msg_1", "m1@example.com"))
	service := newService(messageRepo, &stubAI{err: errors.New("model down")}, newFakeTransport())

	results := service.ProcessBatch(context.Background(), []*models.Message{testMessage("msg_1", "m1@example.com")})

	require.Error(t, results[0].Err)
	stored := messageRepo.get("msg_1")
	require.False(t, stored.Processed)
	require.False(t, stored.Processing)
}

func TestProcessBatch_MailboxFailureLeavesMessageRetryable(t *testing.T) {
	messageRepo := newFakeMessageRepo(testMessage("msg_1", "m1@example.com"))
	transport := newFakeTransport()
	transport.failOps = true
	service := newService(messageRepo, &stubAI{response: `{"label":"Meetings"}`}, transport)

	results := service.ProcessBatch(context.Background(), []*models.Message{testMessage("msg_1", "m1@example.com")})

	require.Error(t, results[0].Err)
	stored := messageRepo.get("msg_1")
	require.False(t, stored.Processed)
	require.False(t, stored.Processing)
}

func TestProcessBatch_AlreadyClaimedIsSkipped(t *testing.T) {
	claimed := testMessage("msg_1", "m1@example.com")
	claimed.Processing = true
	messageRepo := newFakeMessageRepo(claimed)
	ai := &stubAI{response: `{"draft":"hello"}`}
	service := newService(messageRepo, ai, newFakeTransport())

	results := service.ProcessBatch(context.Background(), []*models.Message{testMessage("msg_1", "m1@example.com")})

	require.NoError(t, results[0].Err)
	require.Empty(t, results[0].Action)
	require.False(t, messageRepo.get("msg_1").Processed)
}

func TestProcessBatch_ConcurrentRunsNeverDoubleTriage(t *testing.T) {
	messageRepo := newFakeMessageRepo(testMessage("msg_1", "m1@example.com"))
	transport := newFakeTransport()
	service := newService(messageRepo, &stubAI{response: `{"archive":true}`}, transport)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			service.ProcessBatch(context.Background(), []*models.Message{testMessage("msg_1", "m1@example.com")})
		}()
	}
	wg.Wait()

	require.Len(t, transport.archived, 1, "the archive action must run exactly once")
	require.True(t, messageRepo.get("msg_1").Processed)
}

func TestProcessBatch_MailboxCommandsSerializedPerAccount(t *testing.T) {
	var seed, batch []*models.Message
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seed = append(seed, testMessage("msg_"+id, id+"@example.com"))
		batch = append(batch, testMessage("msg_"+id, id+"@example.com"))
	}
	messageRepo := newFakeMessageRepo(seed...)
	transport := newFakeTransport()
	service := newService(messageRepo, &stubAI{response: `{"label":"Receipts","archive":true}`}, transport)

	results := service.ProcessBatch(context.Background(), batch)

	for _, result := range results {
		require.NoError(t, result.Err)
	}
	require.Zero(t, atomic.LoadInt32(&transport.overlap),
		"mailbox commands on one account's connection must not run concurrently")
	require.Len(t, transport.labeled, 5)
	require.Len(t, transport.archived, 5)
}

func TestProcessPending_DrainsQueueInWindows(t *testing.T) {
	var seed []*models.Message
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		seed = append(seed, testMessage("msg_"+id, id+"@example.com"))
	}
	messageRepo := newFakeMessageRepo(seed...)
	service := newService(messageRepo, &stubAI{response: `{"reviewed":true}`}, newFakeTransport())

	err := service.ProcessPending(context.Background(), "acct_1")

	require.NoError(t, err)
	for _, message := range seed {
		require.True(t, messageRepo.get(message.ID).Processed, "message %s", message.ID)
	}
}

func TestSendDraft_SendsAndMarksSent(t *testing.T) {
	message := testMessage("msg_1", "m1@example.com")
	message.Subject = "Re: Re: project plan"
	message.Draft = "Here is the plan."
	messageRepo := newFakeMessageRepo(message)
	transport := newFakeTransport()
	service := newService(messageRepo, &stubAI{}, transport)

	err := service.SendDraft(context.Background(), "msg_1", "")

	require.NoError(t, err)
	require.Equal(t, []string{"Re: project plan"}, transport.sent)
	stored := messageRepo.get("msg_1")
	require.NotNil(t, stored.SentAt)
	require.Equal(t, "Here is the plan.", stored.SentBody)
	require.True(t, stored.HasActionTag(enum.ActionSent))
}

func TestSendDraft_NoDraftFails(t *testing.T) {
	messageRepo := newFakeMessageRepo(testMessage("msg_1", "m1@example.com"))
	service := newService(messageRepo, &stubAI{}, newFakeTransport())

	err := service.SendDraft(context.Background(), "msg_1", "")

	require.Error(t, err)
}
