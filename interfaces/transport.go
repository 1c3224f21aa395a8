package interfaces

import (
	"context"
	"time"

	"github.com/inboxpilot/mailagent/internal/models"
)

// RawMessage is an undecoded message as listed from the mailbox.
type RawMessage struct {
	UID    uint32
	Source []byte
}

// MailTransport is one long-lived connection to a remote mailbox. All
// methods are blocking, potentially multi-second network operations.
// Implementations wrap connectivity failures as transport errors and
// credential rejections as auth errors (internal/errs).
type MailTransport interface {
	Connect(ctx context.Context) error
	Close() error

	ListSince(ctx context.Context, since time.Time) ([]RawMessage, error)
	Fetch(ctx context.Context, messageID string) (*RawMessage, error)

	// WaitForNewMail blocks until the server signals new mail or the
	// timeout elapses. A timeout is not an error; it returns (false, nil).
	WaitForNewMail(ctx context.Context, timeout time.Duration) (bool, error)

	EnsureLabel(ctx context.Context, name string) (string, error)
	ApplyLabel(ctx context.Context, messageID, label string) error
	RemoveFromInbox(ctx context.Context, messageID string) error
	MarkRead(ctx context.Context, messageID string) error

	Send(ctx context.Context, to []string, subject, body, inReplyTo string) error
}

// TransportFactory builds a transport for one account. Watchers own the
// returned connection for their lifetime.
type TransportFactory func(account *models.Account) MailTransport

// MessageParser decodes a raw message into the normalized record.
type MessageParser interface {
	Parse(raw []byte) (*models.Message, error)
}
