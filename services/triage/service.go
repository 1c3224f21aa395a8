package triage

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/config"
	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/repository"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/internal/utils"
)

const defaultReadingPrompt = "You are an email triage assistant. Read the email and respond with a single JSON object " +
	`of the shape {"draft": string, "tags": [string], "label": string, "archive": bool, "reviewed": bool}. ` +
	"Write a reply in 'draft' only when the email asks for a response. Use 'tags' for short topical keywords, " +
	"'label' for a mailbox folder the email belongs in, 'archive' when it needs no attention, and " +
	"'reviewed' true when no other action applies. Respond with JSON only."

type triageService struct {
	log              logger.Logger
	cfg              *config.TriageConfig
	repositories     *repository.Repositories
	aiService        interfaces.AIService
	transportFactory interfaces.TransportFactory
	publisher        interfaces.EventPublisher
}

func NewTriageService(
	log logger.Logger,
	cfg *config.TriageConfig,
	repositories *repository.Repositories,
	aiService interfaces.AIService,
	transportFactory interfaces.TransportFactory,
	publisher interfaces.EventPublisher,
) interfaces.TriageService {
	return &triageService{
		log:              log,
		cfg:              cfg,
		repositories:     repositories,
		aiService:        aiService,
		transportFactory: transportFactory,
		publisher:        publisher,
	}
}

// transportPool hands out one connected transport per account for the
// lifetime of a batch. IMAP clients cannot run commands concurrently,
// so every transport carries a command lock and batch items for the
// same account take turns at the mailbox.
type transportPool struct {
	factory     interfaces.TransportFactory
	accountRepo interfaces.AccountRepository

	mu         sync.Mutex
	transports map[string]*pooledTransport
}

type pooledTransport struct {
	transport interfaces.MailTransport
	commands  sync.Mutex
}

func newTransportPool(factory interfaces.TransportFactory, accountRepo interfaces.AccountRepository) *transportPool {
	return &transportPool{
		factory:     factory,
		accountRepo: accountRepo,
		transports:  make(map[string]*pooledTransport),
	}
}

// acquire returns the account's transport with its command lock held;
// the caller must invoke the returned release function when done.
func (p *transportPool) acquire(ctx context.Context, accountID string) (interfaces.MailTransport, func(), error) {
	p.mu.Lock()
	pooled, ok := p.transports[accountID]
	if !ok {
		account, err := p.accountRepo.GetByID(ctx, accountID)
		if err != nil {
			p.mu.Unlock()
			return nil, nil, err
		}
		if account == nil {
			p.mu.Unlock()
			return nil, nil, errors.Errorf("account %s not found", accountID)
		}

		transport := p.factory(account)
		if err := transport.Connect(ctx); err != nil {
			p.mu.Unlock()
			return nil, nil, err
		}
		pooled = &pooledTransport{transport: transport}
		p.transports[accountID] = pooled
	}
	p.mu.Unlock()

	pooled.commands.Lock()
	return pooled.transport, pooled.commands.Unlock, nil
}

func (p *transportPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pooled := range p.transports {
		pooled.commands.Lock()
		_ = pooled.transport.Close()
		pooled.commands.Unlock()
	}
	p.transports = make(map[string]*pooledTransport)
}

func (s *triageService) ProcessBatch(ctx context.Context, messages []*models.Message) []interfaces.TriageResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TriageService.ProcessBatch")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.LogKV("batchSize", len(messages))

	pool := newTransportPool(s.transportFactory, s.repositories.AccountRepository)
	defer pool.closeAll()

	results := make([]interfaces.TriageResult, len(messages))
	var wg sync.WaitGroup
	for i, message := range messages {
		wg.Add(1)
		go func(i int, message *models.Message) {
			defer wg.Done()
			results[i] = s.processOne(ctx, pool, message)
		}(i, message)
	}
	wg.Wait()

	return results
}

func (s *triageService) processOne(ctx context.Context, pool *transportPool, message *models.Message) interfaces.TriageResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TriageService.processOne")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessage(span, message.MessageID)

	result := interfaces.TriageResult{MessageID: message.MessageID}

	claimed, err := s.repositories.MessageRepository.ClaimForProcessing(ctx, message.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Err = err
		return result
	}
	if !claimed {
		span.LogKV("skipped", "already claimed or processed")
		s.log.Debugf("message %s already claimed, skipping", message.MessageID)
		return result
	}

	actions, err := s.requestActions(ctx, message)
	if err != nil {
		tracing.TraceErr(span, err)
		s.release(ctx, message.ID)
		result.Err = err
		return result
	}

	if err := s.applyActions(ctx, pool, message, actions); err != nil {
		tracing.TraceErr(span, err)
		s.release(ctx, message.ID)
		result.Err = err
		return result
	}

	message.Action = message.SummarizeActions(actions.Label)
	message.Processed = true
	message.Processing = false
	if err := s.repositories.MessageRepository.Update(ctx, message); err != nil {
		tracing.TraceErr(span, err)
		s.release(ctx, message.ID)
		result.Err = err
		return result
	}

	s.log.Infof("triaged message %s: %s", message.MessageID, message.Action)
	result.Action = message.Action

	if s.publisher != nil {
		if err := s.publisher.PublishMessageProcessed(ctx, dto.MessageProcessed{
			AccountID: message.AccountID,
			MessageID: message.MessageID,
			Action:    message.Action,
			HasDraft:  message.Draft != "",
		}); err != nil {
			s.log.Warnf("failed to publish processed event for %s: %v", message.MessageID, err)
		}
	}

	return result
}

// requestActions builds the digest, asks the drafting agent for actions
// and defensively parses the response.
func (s *triageService) requestActions(ctx context.Context, message *models.Message) (dto.ActionSet, error) {
	digest := BuildDigest(message.Body, s.cfg.DigestBudget)

	instructions, err := s.repositories.SettingRepository.Get(ctx, models.SettingReadingPrompt)
	if err != nil {
		return dto.ActionSet{}, err
	}
	if instructions == "" {
		instructions = defaultReadingPrompt
	}
	if draftPrompt, err := s.repositories.SettingRepository.Get(ctx, models.SettingDraftingPrompt); err == nil && draftPrompt != "" {
		instructions = instructions + "\n\nWhen drafting a reply: " + draftPrompt
	}

	content := "From: " + message.FromName + " <" + message.FromAddress + ">\n" +
		"Subject: " + message.Subject + "\n\n" +
		digest

	response, err := s.aiService.Completion(ctx, dto.CompletionRequest{
		SystemInstructions: instructions,
		UserContent:        content,
	})
	if err != nil {
		return dto.ActionSet{}, err
	}

	return ParseActionSet(response), nil
}

// applyActions mutates the record for draft/tags and performs the mailbox
// side effects. Any remote failure aborts before the record is marked
// processed so the message is retried later.
func (s *triageService) applyActions(ctx context.Context, pool *transportPool, message *models.Message, actions dto.ActionSet) error {
	if actions.Draft != "" {
		message.Draft = actions.Draft
		message.AddActionTag(enum.ActionDrafted)
	}
	if len(actions.Tags) > 0 {
		message.Tags = utils.UniqueStrings(append(message.Tags, actions.Tags...))
		message.AddActionTag(enum.ActionTagged)
	}

	needsMailbox := actions.Label != "" || actions.Archive
	if !needsMailbox {
		return nil
	}

	transport, release, err := pool.acquire(ctx, message.AccountID)
	if err != nil {
		return err
	}
	defer release()

	if actions.Label != "" {
		labelID, err := transport.EnsureLabel(ctx, actions.Label)
		if err != nil {
			return err
		}
		if err := transport.ApplyLabel(ctx, message.MessageID, labelID); err != nil {
			return err
		}
		message.AddActionTag(enum.ActionLabeled)
	}

	if actions.Archive {
		if err := transport.RemoveFromInbox(ctx, message.MessageID); err != nil {
			return err
		}
		message.AddActionTag(enum.ActionArchived)
	}

	// a touched message should not stay unread in the mailbox
	if err := transport.MarkRead(ctx, message.MessageID); err != nil {
		return err
	}

	return nil
}

func (s *triageService) release(ctx context.Context, id string) {
	if err := s.repositories.MessageRepository.ReleaseProcessing(ctx, id); err != nil {
		s.log.Errorf("failed to release processing claim on %s: %v", id, err)
	}
}

func (s *triageService) ProcessPending(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TriageService.ProcessPending")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	for {
		batch, err := s.repositories.MessageRepository.ListUnprocessed(ctx, accountID, s.cfg.BatchSize)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		results := s.ProcessBatch(ctx, batch)

		progressed := false
		for _, result := range results {
			if result.Err == nil && result.Action != "" {
				progressed = true
			}
		}
		if !progressed {
			// every message in the window failed or was claimed elsewhere,
			// stop instead of spinning on the same batch
			s.log.Warnf("no progress on pending batch for account %s, stopping run", accountID)
			return nil
		}
	}
}

func (s *triageService) SendDraft(ctx context.Context, messageID, draft string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TriageService.SendDraft")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessage(span, messageID)

	message, err := s.repositories.MessageRepository.GetByID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if message == nil {
		return errors.Errorf("message %s not found", messageID)
	}

	if draft == "" {
		draft = message.Draft
	}
	if draft == "" {
		return errors.New("message has no draft to send")
	}

	recipients := message.SenderAddresses()
	if len(recipients) == 0 {
		return errors.New("message has no reply address")
	}

	account, err := s.repositories.AccountRepository.GetByID(ctx, message.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		return errors.Errorf("account %s not found", message.AccountID)
	}

	transport := s.transportFactory(account)
	if err := transport.Connect(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	defer func() { _ = transport.Close() }()

	subject := "Re: " + utils.NormalizeSubject(message.Subject)
	if err := transport.Send(ctx, recipients, subject, draft, message.MessageID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	now := utils.Now()
	message.SentAt = &now
	message.SentBody = draft
	message.AddActionTag(enum.ActionSent)
	if err := s.repositories.MessageRepository.Update(ctx, message); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("sent draft for message %s to %v", message.MessageID, recipients)
	return nil
}
