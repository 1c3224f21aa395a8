package filter

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/models"
)

type stubAI struct {
	answer string
	err    error
	calls  int
}

func (s *stubAI) Completion(ctx context.Context, request dto.CompletionRequest) (string, error) {
	s.calls++
	return s.answer, s.err
}

func testLogger(t *testing.T) logger.Logger {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	return log
}

func senderRule(position int, value string) *models.WhitelistRule {
	return &models.WhitelistRule{ID: "rule_1", Position: position, Type: enum.RuleSender, Value: value}
}

func subjectRule(position int, value string) *models.WhitelistRule {
	return &models.WhitelistRule{ID: "rule_2", Position: position, Type: enum.RuleSubject, Value: value}
}

func classificationRule(position int, value string) *models.WhitelistRule {
	return &models.WhitelistRule{ID: "rule_3", Position: position, Type: enum.RuleClassification, Value: value}
}

func TestAccepts_NoRulesAcceptsEverything(t *testing.T) {
	service := NewFilterService(testLogger(t), &stubAI{})

	accepted, err := service.Accepts(context.Background(), &models.Message{MessageID: "m1"}, nil)

	require.NoError(t, err)
	require.True(t, accepted)
}

func TestAccepts_SenderMatchIsCaseInsensitive(t *testing.T) {
	service := NewFilterService(testLogger(t), &stubAI{})
	message := &models.Message{MessageID: "m1", FromAddress: "boss@corp.com"}

	accepted, err := service.Accepts(context.Background(), message,
		[]*models.WhitelistRule{senderRule(0, "Boss@Corp.COM")})

	require.NoError(t, err)
	require.True(t, accepted)
}

func TestAccepts_SenderMatchesReplyTo(t *testing.T) {
	service := NewFilterService(testLogger(t), &stubAI{})
	message := &models.Message{MessageID: "m1", FromAddress: "relay@list.com", ReplyTo: "real@corp.com"}

	accepted, err := service.Accepts(context.Background(), message,
		[]*models.WhitelistRule{senderRule(0, "real@corp.com")})

	require.NoError(t, err)
	require.True(t, accepted)
}

func TestAccepts_SubjectSubstring(t *testing.T) {
	service := NewFilterService(testLogger(t), &stubAI{})
	message := &models.Message{MessageID: "m1", Subject: "URGENT: server down"}

	accepted, err := service.Accepts(context.Background(), message,
		[]*models.WhitelistRule{subjectRule(0, "urgent")})

	require.NoError(t, err)
	require.True(t, accepted)
}

func TestAccepts_NoMatchRejects(t *testing.T) {
	service := NewFilterService(testLogger(t), &stubAI{})
	message := &models.Message{MessageID: "m1", FromAddress: "spam@junk.com", Subject: "win money"}

	accepted, err := service.Accepts(context.Background(), message, []*models.WhitelistRule{
		senderRule(0, "boss@corp.com"),
		subjectRule(1, "invoice"),
	})

	require.NoError(t, err)
	require.False(t, accepted)
}

func TestAccepts_FirstMatchShortCircuits(t *testing.T) {
	ai := &stubAI{answer: "allow"}
	service := NewFilterService(testLogger(t), ai)
	message := &models.Message{MessageID: "m1", FromAddress: "boss@corp.com"}

	accepted, err := service.Accepts(context.Background(), message, []*models.WhitelistRule{
		senderRule(0, "boss@corp.com"),
		classificationRule(1, "anything important"),
	})

	require.NoError(t, err)
	require.True(t, accepted)
	require.Zero(t, ai.calls, "classification must not run once an earlier rule matched")
}

func TestAccepts_ClassificationAffirmativeTokens(t *testing.T) {
	message := &models.Message{MessageID: "m1", Subject: "renewal notice", Body: "your contract renews"}
	rules := []*models.WhitelistRule{classificationRule(0, "contract related mail")}

	for answer, want := range map[string]bool{
		"allow":  true,
		"Allow.": true,
		"yes":    true,
		"true":   true,
		"I would allow this email, it matches the description.": true,
		"Yes, this is contract related.":                        true,
		"deny": false,
		"no":   false,
	} {
		service := NewFilterService(testLogger(t), &stubAI{answer: answer})
		accepted, err := service.Accepts(context.Background(), message, rules)
		require.NoError(t, err)
		require.Equal(t, want, accepted, "answer %q", answer)
	}
}

func TestAccepts_ClassificationFailureSkipsRule(t *testing.T) {
	service := NewFilterService(testLogger(t), &stubAI{err: errors.New("model unavailable")})
	message := &models.Message{MessageID: "m1", Subject: "urgent maintenance"}

	accepted, err := service.Accepts(context.Background(), message, []*models.WhitelistRule{
		classificationRule(0, "anything"),
		subjectRule(1, "urgent"),
	})

	require.NoError(t, err)
	require.True(t, accepted, "later rules still evaluate when classification fails")
}
