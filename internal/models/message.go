package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/utils"
)

// Message is the canonical unit of work flowing through the pipeline.
// MessageID is the stable external identifier and the dedup key;
// Processing is an advisory lock guarding against two concurrent triage
// attempts on the same record.
type Message struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string `gorm:"column:account_id;type:varchar(50);index;not null" json:"accountId"`
	MessageID string `gorm:"column:message_id;uniqueIndex;type:varchar(255);not null" json:"messageId"`
	InReplyTo string `gorm:"column:in_reply_to;type:varchar(255);index" json:"inReplyTo"`

	// Core metadata
	Subject     string         `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	FromAddress string         `gorm:"column:from_address;type:varchar(255);index" json:"fromAddress"`
	FromName    string         `gorm:"column:from_name;type:varchar(255)" json:"fromName"`
	ReplyTo     string         `gorm:"column:reply_to;type:varchar(255)" json:"replyTo"`
	ToAddresses pq.StringArray `gorm:"column:to_addresses;type:text[]" json:"toAddresses"`

	// Content
	Body       string     `gorm:"column:body;type:text" json:"body"`
	ReceivedAt *time.Time `gorm:"column:received_at;type:timestamp;index" json:"receivedAt"`

	// Triage lifecycle
	Processed  bool           `gorm:"column:processed;not null;default:false;index" json:"processed"`
	Processing bool           `gorm:"column:processing;not null;default:false" json:"processing"`
	Action     string         `gorm:"column:action;type:varchar(255)" json:"action"`
	ActionTags pq.StringArray `gorm:"column:action_tags;type:text[]" json:"actionTags"`
	Draft      string         `gorm:"column:draft;type:text" json:"draft"`
	Tags       pq.StringArray `gorm:"column:tags;type:text[]" json:"tags"`

	// Send flow
	SentAt   *time.Time `gorm:"column:sent_at;type:timestamp" json:"sentAt"`
	SentBody string     `gorm:"column:sent_body;type:text" json:"sentBody"`

	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("msg", 24)
	}
	m.CreatedAt = utils.Now()
	return nil
}

// AddActionTag records an action outcome without duplicating tags.
func (m *Message) AddActionTag(tag enum.ActionTag) {
	if utils.IsStringInSlice(tag.String(), m.ActionTags) {
		return
	}
	m.ActionTags = append(m.ActionTags, tag.String())
}

func (m *Message) HasActionTag(tag enum.ActionTag) bool {
	return utils.IsStringInSlice(tag.String(), m.ActionTags)
}

// SummarizeActions builds the human-readable action summary, e.g.
// "drafted, labeled 'Important'" or "reviewed (no action needed)".
func (m *Message) SummarizeActions(labelName string) string {
	var parts []string
	if m.HasActionTag(enum.ActionDrafted) {
		parts = append(parts, "drafted")
	}
	if m.HasActionTag(enum.ActionTagged) {
		parts = append(parts, "tagged")
	}
	if m.HasActionTag(enum.ActionLabeled) && labelName != "" {
		parts = append(parts, "labeled '"+labelName+"'")
	}
	if m.HasActionTag(enum.ActionArchived) {
		parts = append(parts, "archived")
	}
	if m.HasActionTag(enum.ActionSent) {
		parts = append(parts, "sent")
	}
	if len(parts) == 0 {
		return "reviewed (no action needed)"
	}
	return strings.Join(parts, ", ")
}

// SenderAddresses returns every address a reply could target, reply-to
// first when present.
func (m *Message) SenderAddresses() []string {
	var addresses []string
	if m.ReplyTo != "" {
		addresses = append(addresses, m.ReplyTo)
	}
	if m.FromAddress != "" && !utils.IsStringInSlice(m.FromAddress, addresses) {
		addresses = append(addresses, m.FromAddress)
	}
	return addresses
}
