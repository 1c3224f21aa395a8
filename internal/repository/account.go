package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/enum"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/internal/utils"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{
		db: db,
	}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return &account, nil
}

func (r *accountRepository) GetByEmailAddress(ctx context.Context, address string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByEmailAddress")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.Account
	if err := r.db.WithContext(ctx).Where("email_address = ?", address).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return &account, nil
}

func (r *accountRepository) List(ctx context.Context, activeOnly bool) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	query := r.db.WithContext(ctx).Order("created_at ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var accounts []*models.Account
	if err := query.Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return accounts, nil
}

func (r *accountRepository) UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateConnectionStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"connection_status": status,
			"connection_error":  errorMessage,
			"updated_at":        utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}

func (r *accountRepository) Deactivate(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Deactivate")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":            false,
			"connection_status": enum.ConnectionDisabled,
			"updated_at":        utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}
