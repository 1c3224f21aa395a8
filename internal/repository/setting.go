package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/internal/utils"
)

type settingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) interfaces.SettingRepository {
	return &settingRepository{
		db: db,
	}
}

func (r *settingRepository) Get(ctx context.Context, key string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "settingRepository.Get")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var setting models.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		tracing.TraceErr(span, err)
		return "", errs.Storage(err)
	}
	return setting.Value, nil
}

func (r *settingRepository) Put(ctx context.Context, key, value string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "settingRepository.Put")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	setting := models.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: utils.Now(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&setting).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}
