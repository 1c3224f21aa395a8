package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxpilot/mailagent/config"
	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

type aiService struct {
	cfg    *config.AIConfig
	client *http.Client
}

func NewAIService(cfg *config.AIConfig) interfaces.AIService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &aiService{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (s *aiService) Completion(ctx context.Context, request dto.CompletionRequest) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aiService.Completion")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	payload, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: request.SystemInstructions},
			{Role: "user", Content: request.UserContent},
		},
		Temperature: 0,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.Url+"/chat/completions", bytes.NewBuffer(payload))
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.ApiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errs.ExternalCall(errors.Wrap(err, "request failed"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errs.ExternalCall(errors.Wrap(err, "unable to read response body"))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(body))
		tracing.TraceErr(span, err)
		return "", errs.ExternalCall(err)
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		tracing.TraceErr(span, err)
		return "", errs.ExternalCall(errors.Wrap(err, "failed to unmarshal response"))
	}
	if len(response.Choices) == 0 {
		err := errors.New("response contains no choices")
		tracing.TraceErr(span, err)
		return "", errs.ExternalCall(err)
	}

	return response.Choices[0].Message.Content, nil
}
