package interfaces

import (
	"context"
	"time"

	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmailAddress(ctx context.Context, address string) (*models.Account, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Account, error)
	UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error
	Deactivate(ctx context.Context, id string) error
}

type CursorRepository interface {
	Get(ctx context.Context, accountID string) (*models.Cursor, error)
	// Advance moves the watermark forward; a timestamp at or behind the
	// stored one is a no-op.
	Advance(ctx context.Context, accountID string, ts time.Time) error
}

type MessageFilter struct {
	AccountID string
	Processed *bool
}

type MessageRepository interface {
	// Create stores a message unless one with the same MessageID already
	// exists. Returns true when a new record was created.
	Create(ctx context.Context, message *models.Message) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.Message, error)
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
	List(ctx context.Context, filter MessageFilter) ([]*models.Message, error)
	// ListUnprocessed returns up to limit stored, unprocessed, unclaimed
	// messages, oldest received first.
	ListUnprocessed(ctx context.Context, accountID string, limit int) ([]*models.Message, error)
	// ClaimForProcessing atomically flips processing to true; returns
	// false when another attempt already holds the claim or the message
	// is already processed.
	ClaimForProcessing(ctx context.Context, id string) (bool, error)
	ReleaseProcessing(ctx context.Context, id string) error
	Update(ctx context.Context, message *models.Message) error
	ClearProcessed(ctx context.Context, accountID string) error
	DeleteByIDs(ctx context.Context, ids []string) error
}

type RuleRepository interface {
	GetForAccount(ctx context.Context, accountID string) ([]*models.WhitelistRule, error)
	// ReplaceForAccount swaps the account's ordered rule list wholesale.
	ReplaceForAccount(ctx context.Context, accountID string, rules []*models.WhitelistRule) error
}

type SettingRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}
