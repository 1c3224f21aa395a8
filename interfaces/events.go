package interfaces

import (
	"context"

	"github.com/inboxpilot/mailagent/dto"
)

// EventPublisher emits message lifecycle events for downstream
// consumers. Implementations must be safe for concurrent use; a nil or
// disabled publisher is a no-op.
type EventPublisher interface {
	PublishMessageStored(ctx context.Context, event dto.MessageStored) error
	PublishMessageProcessed(ctx context.Context, event dto.MessageProcessed) error
	Close() error
}
