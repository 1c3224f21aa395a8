package interfaces

import (
	"context"
	"time"

	"github.com/inboxpilot/mailagent/internal/models"
)

type WatcherStatus struct {
	Connected    bool
	LastError    string
	AuthFailures int
	Stopped      bool
	LastChecked  time.Time
}

type WatcherService interface {
	Start(ctx context.Context) error
	Stop() error
	AddAccount(ctx context.Context, account *models.Account) error
	RemoveAccount(ctx context.Context, accountID string) error
	// Sweep runs one reconciliation pass over every account, re-listing
	// messages since each cursor. Safe to call while watchers run.
	Sweep(ctx context.Context) error
	Status() map[string]WatcherStatus
}

type FilterService interface {
	Accepts(ctx context.Context, message *models.Message, rules []*models.WhitelistRule) (bool, error)
}

type TriageResult struct {
	MessageID string
	Action    string
	Err       error
}

type TriageService interface {
	// ProcessBatch triages the given messages, dispatching them
	// concurrently and returning once all have settled.
	ProcessBatch(ctx context.Context, messages []*models.Message) []TriageResult
	// ProcessPending drains the account's unprocessed queue in
	// batch-sized windows.
	ProcessPending(ctx context.Context, accountID string) error
	// SendDraft sends a stored draft over SMTP and marks the message sent.
	SendDraft(ctx context.Context, messageID, draft string) error
}

type ReconcileStatus struct {
	Running  bool   `json:"running"`
	Progress string `json:"progress"`
	JobID    string `json:"jobId,omitempty"`
}

type ReconcileService interface {
	// Trigger starts a background re-evaluation of the account's stored
	// messages against its current rules.
	Trigger(ctx context.Context, accountID string) (string, error)
	Status() ReconcileStatus
}
