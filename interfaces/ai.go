package interfaces

import (
	"golang.org/x/net/context"

	"github.com/inboxpilot/mailagent/dto"
)

type AIService interface {
	Completion(ctx context.Context, request dto.CompletionRequest) (string, error)
}
