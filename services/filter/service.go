package filter

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"

	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

const defaultClassificationPrompt = "You decide whether an incoming email matches a plain-language description. " +
	"Answer with the single word 'allow' when it matches and 'deny' when it does not."

// affirmativeTokens anywhere in the answer count as a positive
// classification.
var affirmativeTokens = []string{"allow", "true", "yes"}

type filterService struct {
	log       logger.Logger
	aiService interfaces.AIService
}

func NewFilterService(log logger.Logger, aiService interfaces.AIService) interfaces.FilterService {
	return &filterService{
		log:       log,
		aiService: aiService,
	}
}

// Accepts evaluates the account's ordered rule list against the message.
// The first matching rule accepts; an empty rule list accepts everything;
// no match rejects. A failing classification call skips that rule rather
// than rejecting the message outright.
func (s *filterService) Accepts(ctx context.Context, message *models.Message, rules []*models.WhitelistRule) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FilterService.Accepts")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessage(span, message.MessageID)

	if len(rules) == 0 {
		span.LogKV("result", "accepted", "reason", "no rules configured")
		return true, nil
	}

	var lastErr error
	for _, rule := range rules {
		matched, err := s.matches(ctx, message, rule)
		if err != nil {
			tracing.TraceErr(span, err)
			s.log.Warnf("rule %s evaluation failed for message %s: %v", rule.ID, message.MessageID, err)
			lastErr = err
			continue
		}
		if matched {
			span.LogKV("result", "accepted", "ruleId", rule.ID, "ruleType", rule.Type.String())
			return true, nil
		}
	}

	span.LogKV("result", "rejected")
	return false, lastErr
}

func (s *filterService) matches(ctx context.Context, message *models.Message, rule *models.WhitelistRule) (bool, error) {
	switch rule.Type {
	case enum.RuleSender:
		return s.matchesSender(message, rule.Value), nil
	case enum.RuleSubject:
		return s.matchesSubject(message, rule.Value), nil
	case enum.RuleClassification:
		return s.matchesClassification(ctx, message, rule.Value)
	default:
		s.log.Warnf("unknown rule type %s, skipping", rule.Type)
		return false, nil
	}
}

// matchesSender compares case-insensitively against the from address and,
// when present, the reply-to address.
func (s *filterService) matchesSender(message *models.Message, value string) bool {
	want := strings.ToLower(strings.TrimSpace(value))
	if want == "" {
		return false
	}
	for _, address := range message.SenderAddresses() {
		if strings.ToLower(address) == want {
			return true
		}
	}
	return false
}

func (s *filterService) matchesSubject(message *models.Message, value string) bool {
	want := strings.ToLower(strings.TrimSpace(value))
	if want == "" {
		return false
	}
	return strings.Contains(strings.ToLower(message.Subject), want)
}

func (s *filterService) matchesClassification(ctx context.Context, message *models.Message, description string) (bool, error) {
	content := "Description: " + description + "\n\n" +
		"From: " + message.FromAddress + "\n" +
		"Subject: " + message.Subject + "\n\n" +
		message.Body

	answer, err := s.aiService.Completion(ctx, dto.CompletionRequest{
		SystemInstructions: defaultClassificationPrompt,
		UserContent:        content,
	})
	if err != nil {
		return false, err
	}

	answer = strings.ToLower(answer)
	for _, token := range affirmativeTokens {
		if strings.Contains(answer, token) {
			return true, nil
		}
	}
	return false, nil
}
