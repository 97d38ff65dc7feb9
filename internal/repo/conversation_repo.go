// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// This repository is designed to be wrapped by a higher-level service
// (see services.ConversationStore) which enforces append serialization,
// status-transition policy, and input validation.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/search"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts a new Conversation row. The caller supplies the
// ID (a UUID) and the immutable header fields; status starts as in_progress
// with a zero message count.
func CreateConversation(ctx context.Context, db *gorm.DB, id, userID, platform string, startedAt time.Time) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:         id,
		UserID:     userID,
		UserIDFold: search.Fold(userID),
		Platform:   platform,
		StartedAt:  startedAt.UTC(),
		Status:     domain.StatusInProgress,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a single conversation header by ID. If the record
// does not exist, it returns ErrNotFound. On other DB errors, the raw error
// is returned.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// SetMessagesCount updates the denormalized message counter for a
// conversation. It is only ever called inside the store's append transaction,
// where the new count equals the Seq just assigned.
func SetMessagesCount(ctx context.Context, db *gorm.DB, id string, count int64) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("messages_count", count)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CompleteConversation performs the one-way in_progress → completed
// transition, recording the duration. It reports (via alreadyDone) when the
// row exists but was completed before, so the service layer can apply its
// idempotent no-op policy. A missing row returns ErrNotFound.
func CompleteConversation(ctx context.Context, db *gorm.DB, id string, durationMinutes float64) (alreadyDone bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND status = ?", id, domain.StatusInProgress).
		Updates(map[string]any{
			"status":           domain.StatusCompleted,
			"duration_minutes": durationMinutes,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return false, nil
	}

	// No row transitioned: either absent or already completed.
	var count int64
	if err := db.WithContext(ctx).Model(&domain.Conversation{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, gorm.ErrRecordNotFound
	}
	return true, nil
}

// ConversationExists reports whether a conversation row exists.
func ConversationExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Conversation{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}
