package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/utils"
)

// WhitelistRule is one entry of an account's ordered rule list.
// Position fixes the evaluation order; the first matching rule accepts.
type WhitelistRule struct {
	ID        string        `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string        `gorm:"column:account_id;type:varchar(50);index;not null" json:"accountId"`
	Position  int           `gorm:"column:position;not null" json:"position"`
	Type      enum.RuleType `gorm:"column:type;type:varchar(50);not null" json:"type"`
	Value     string        `gorm:"column:value;type:text;not null" json:"value"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (WhitelistRule) TableName() string {
	return "whitelist_rules"
}

func (r *WhitelistRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = utils.GenerateNanoIDWithPrefix("rule", 16)
	}
	return nil
}
