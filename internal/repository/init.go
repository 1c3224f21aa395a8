package repository

import (
	"gorm.io/gorm"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/models"
)

type Repositories struct {
	AccountRepository interfaces.AccountRepository
	CursorRepository  interfaces.CursorRepository
	MessageRepository interfaces.MessageRepository
	RuleRepository    interfaces.RuleRepository
	SettingRepository interfaces.SettingRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository: NewAccountRepository(db),
		CursorRepository:  NewCursorRepository(db),
		MessageRepository: NewMessageRepository(db),
		RuleRepository:    NewRuleRepository(db),
		SettingRepository: NewSettingRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Cursor{},
		&models.Message{},
		&models.WhitelistRule{},
		&models.Setting{},
	)
}
