package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/utils"
)

// Account holds the identity credentials for one watched mailbox.
// Watchers read it, never mutate it.
type Account struct {
	ID           string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	EmailAddress string `gorm:"column:email_address;type:varchar(255);uniqueIndex;not null" json:"emailAddress"`
	// IMAP configuration
	ImapServer   string            `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int               `gorm:"column:imap_port;not null;default:993" json:"imapPort"`
	ImapUsername string            `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapPassword string            `gorm:"column:imap_password;type:varchar(255);not null" json:"-"`
	ImapSecurity enum.MailSecurity `gorm:"column:imap_security;type:varchar(50);default:'tls'" json:"imapSecurity"`
	// SMTP configuration
	SmtpServer string `gorm:"column:smtp_server;type:varchar(255)" json:"smtpServer"`
	SmtpPort   int    `gorm:"column:smtp_port;default:587" json:"smtpPort"`
	// Status information
	Active           bool                  `gorm:"column:active;not null;default:true" json:"active"`
	ConnectionStatus enum.ConnectionStatus `gorm:"column:connection_status;type:varchar(50)" json:"connectionStatus"`
	ConnectionError  string                `gorm:"column:connection_error;type:text" json:"connectionError"`
	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	return nil
}
