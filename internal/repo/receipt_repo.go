// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the IngestReceipt
// model used to implement safe-retry semantics for the append endpoint.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/domain"
)

// ErrDuplicate indicates that an ingest receipt already exists for the given
// (conversation_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetReceipt returns a non-expired receipt or ErrNotFound.
func GetReceipt(ctx context.Context, db *gorm.DB, conversationID, key string, now time.Time) (*domain.IngestReceipt, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.IngestReceipt
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND key = ? AND expires_at > ?", conversationID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateReceipt inserts a receipt and returns ErrDuplicate on unique violation.
func CreateReceipt(ctx context.Context, db *gorm.DB, conversationID, key, messageID string, status int, ttl time.Duration) (*domain.IngestReceipt, error) {
	now := time.Now().UTC()
	rec := &domain.IngestReceipt{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Key:            key,
		MessageID:      messageID,
		Status:         status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// RefreshReceipt re-points an existing (conversation, key) receipt at a new
// message and restarts its TTL. The append path uses it when a key is reused
// after its receipt expired but before the sweep removed the row.
func RefreshReceipt(ctx context.Context, db *gorm.DB, conversationID, key, messageID string, status int, ttl time.Duration) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.IngestReceipt{}).
		Where("conversation_id = ? AND key = ?", conversationID, key).
		Updates(map[string]any{
			"message_id": messageID,
			"status":     status,
			"created_at": now,
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepReceipts deletes every receipt that expired at or before now and
// returns the number of rows removed. The cron runner calls it periodically
// so the table stays bounded.
func SweepReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.IngestReceipt{})
	return res.RowsAffected, res.Error
}
