package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

type ruleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) interfaces.RuleRepository {
	return &ruleRepository{
		db: db,
	}
}

func (r *ruleRepository) GetForAccount(ctx context.Context, accountID string) ([]*models.WhitelistRule, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ruleRepository.GetForAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var rules []*models.WhitelistRule
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("position ASC").
		Find(&rules).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return rules, nil
}

func (r *ruleRepository) ReplaceForAccount(ctx context.Context, accountID string, rules []*models.WhitelistRule) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ruleRepository.ReplaceForAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&models.WhitelistRule{}).Error; err != nil {
			return err
		}
		for i, rule := range rules {
			rule.AccountID = accountID
			rule.Position = i
			if err := tx.Create(rule).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}
