package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/internal/utils"
)

type cursorRepository struct {
	db *gorm.DB
	// serializes read-modify-write so the watermark can never regress
	mu sync.Mutex
}

func NewCursorRepository(db *gorm.DB) interfaces.CursorRepository {
	return &cursorRepository{
		db: db,
	}
}

func (r *cursorRepository) Get(ctx context.Context, accountID string) (*models.Cursor, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "cursorRepository.Get")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var cursor models.Cursor
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&cursor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return &cursor, nil
}

func (r *cursorRepository) Advance(ctx context.Context, accountID string, ts time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "cursorRepository.Advance")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	r.mu.Lock()
	defer r.mu.Unlock()

	var cursor models.Cursor
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cursor = models.Cursor{
			AccountID:       accountID,
			LastProcessedAt: ts,
			UpdatedAt:       utils.Now(),
		}
		if err := r.db.WithContext(ctx).Create(&cursor).Error; err != nil {
			tracing.TraceErr(span, err)
			return errs.Storage(err)
		}
		return nil
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}

	// monotonic: never move backward
	if !ts.After(cursor.LastProcessedAt) {
		return nil
	}

	err = r.db.WithContext(ctx).Model(&models.Cursor{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"last_processed_at": ts,
			"updated_at":        utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}
