package dto

import "time"

// MessageStored is published when the watcher persists a newly accepted
// message.
type MessageStored struct {
	AccountID  string     `json:"accountId"`
	MessageID  string     `json:"messageId"`
	Subject    string     `json:"subject"`
	From       string     `json:"from"`
	ReceivedAt *time.Time `json:"receivedAt"`
}

// MessageProcessed is published when triage completes a message.
type MessageProcessed struct {
	AccountID string `json:"accountId"`
	MessageID string `json:"messageId"`
	Action    string `json:"action"`
	HasDraft  bool   `json:"hasDraft"`
}
