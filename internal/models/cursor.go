package models

import (
	"time"
)

// Cursor is the durable per-account watermark. The watcher is its only
// writer and only ever moves it forward.
type Cursor struct {
	AccountID       string    `gorm:"column:account_id;type:varchar(50);primaryKey" json:"accountId"`
	LastProcessedAt time.Time `gorm:"column:last_processed_at;type:timestamp;not null" json:"lastProcessedAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Cursor) TableName() string {
	return "cursors"
}
