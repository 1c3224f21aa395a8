package models

import "time"

// Setting is a named opaque configuration string, used for the reading
// and drafting prompts passed through to the drafting agent.
type Setting struct {
	Key       string    `gorm:"column:key;type:varchar(100);primaryKey" json:"key"`
	Value     string    `gorm:"column:value;type:text" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Setting) TableName() string {
	return "settings"
}

const (
	SettingReadingPrompt  = "reading_prompt"
	SettingDraftingPrompt = "draft_prompt"
)
