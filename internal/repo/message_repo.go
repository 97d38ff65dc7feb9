// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/search"
)

// CreateMessage inserts a new message row at the given sequence position.
// Seq uniqueness per conversation is enforced by ux_conv_seq, so a racing
// duplicate insert surfaces as a constraint error rather than a reorder.
func CreateMessage(db *gorm.DB, conversationID string, seq int64, in domain.NewMessage) (*domain.Message, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Seq:            seq,
		SenderType:     in.SenderType,
		Content:        in.Content,
		ContentFold:    search.Fold(in.Content),
		CreatedAt:      ts.UTC(),
		Intent:         in.Intent,
		Confidence:     in.Confidence,
	}
	return m, db.Create(m).Error
}

// GetMessage returns a single message by id, or gorm.ErrRecordNotFound.
// The replay path of the append endpoint uses it to re-serve a previously
// persisted message.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages ordered deterministically (Seq ASC).
// A limit <= 0 returns the full sequence.
func ListMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// LastMessageAt returns the timestamp of the last message in a conversation,
// or nil when the conversation has none.
func LastMessageAt(ctx context.Context, db *gorm.DB, conversationID string) (*time.Time, error) {
	var count int64
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	if err := q.Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	var row struct {
		CreatedAt time.Time
	}
	if err := q.Select("created_at").Order("seq DESC").Limit(1).Scan(&row).Error; err != nil {
		return nil, err
	}
	return &row.CreatedAt, nil
}
