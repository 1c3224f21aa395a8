package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/errs"
	"github.com/inboxpilot/mailagent/internal/models"
	"github.com/inboxpilot/mailagent/internal/tracing"
	"github.com/inboxpilot/mailagent/internal/utils"
)

type messageRepository struct {
	db *gorm.DB
	// serializes insert-if-absent and claim operations; storage load is
	// low relative to network latency, so a single lock is acceptable
	mu sync.Mutex
}

func NewMessageRepository(db *gorm.DB) interfaces.MessageRepository {
	return &messageRepository{
		db: db,
	}
}

// Create stores a message unless one with the same external MessageID
// already exists. Ingestion is at-least-once upstream; this is the check
// that makes it effectively-once.
func (r *messageRepository) Create(ctx context.Context, message *models.Message) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMessage(span, message.MessageID)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := &models.Message{}
	err := r.db.WithContext(ctx).
		Where("message_id = ?", message.MessageID).
		First(existing).Error

	if err == nil {
		span.SetTag("duplicate", true)
		return false, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.TraceErr(span, err)
		return false, errs.Storage(err)
	}

	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		tracing.TraceErr(span, err)
		return false, errs.Storage(err)
	}
	return true, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var message models.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return &message, nil
}

func (r *messageRepository) GetByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByMessageID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMessage(span, messageID)

	var message models.Message
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return &message, nil
}

func (r *messageRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ExistsByMessageID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return false, errs.Storage(err)
	}
	return count > 0, nil
}

func (r *messageRepository) List(ctx context.Context, filter interfaces.MessageFilter) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	query := r.db.WithContext(ctx).Order("received_at DESC")
	if filter.AccountID != "" {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.Processed != nil {
		query = query.Where("processed = ?", *filter.Processed)
	}

	var messages []*models.Message
	if err := query.Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return messages, nil
}

// ListUnprocessed returns the next triage window, oldest received first.
// Messages being worked on by another attempt are excluded.
func (r *messageRepository) ListUnprocessed(ctx context.Context, accountID string, limit int) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListUnprocessed")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	query := r.db.WithContext(ctx).
		Where("processed = ? AND processing = ?", false, false).
		Order("received_at ASC").
		Limit(limit)
	if accountID != "" {
		query = query.Where("account_id = ?", accountID)
	}

	var messages []*models.Message
	if err := query.Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errs.Storage(err)
	}
	return messages, nil
}

// ClaimForProcessing flips the advisory lock in a single conditional
// update; RowsAffected == 0 means another attempt already holds it.
func (r *messageRepository) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ClaimForProcessing")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND processing = ? AND processed = ?", id, false, false).
		Updates(map[string]interface{}{
			"processing": true,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, errs.Storage(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *messageRepository) ReleaseProcessing(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ReleaseProcessing")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing": false,
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}

func (r *messageRepository) Update(ctx context.Context, message *models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMessage(span, message.MessageID)

	message.UpdatedAt = utils.Now()
	if err := r.db.WithContext(ctx).Save(message).Error; err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}

func (r *messageRepository) ClearProcessed(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ClearProcessed")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	query := r.db.WithContext(ctx).Model(&models.Message{})
	if accountID != "" {
		query = query.Where("account_id = ?", accountID)
	}
	err := query.Updates(map[string]interface{}{
		"processed":   false,
		"processing":  false,
		"action":      "",
		"action_tags": nil,
		"draft":       "",
		"updated_at":  utils.Now(),
	}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}

func (r *messageRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.DeleteByIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if len(ids) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Message{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return errs.Storage(err)
	}
	return nil
}
