// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the filtered conversation search used by
// the query engine: one shared predicate builder feeds both the COUNT and the
// page query, so the reported total can never drift from the listing.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/search"
)

// ConversationFilter is the conjunctive filter specification resolved against
// the conversations table. Zero-valued fields impose no restriction.
type ConversationFilter struct {
	// FreeText matches case-insensitively as a substring of message content
	// or of the end-user identifier (see internal/search for the exact
	// normalization).
	FreeText string
	// Platform restricts to one channel tag.
	Platform string
	// UserID restricts to an exact end-user identifier.
	UserID string
	// DateFrom/DateTo bound StartedAt (inclusive from, exclusive to).
	DateFrom *time.Time
	DateTo   *time.Time
}

// conversationQuery applies the filter predicate to a base query on the
// conversations table. Both CountConversations and SearchConversations build
// on it.
func conversationQuery(db *gorm.DB, f ConversationFilter) *gorm.DB {
	q := db.Model(&domain.Conversation{})
	if f.Platform != "" {
		q = q.Where("platform = ?", f.Platform)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.DateFrom != nil {
		q = q.Where("started_at >= ?", f.DateFrom.UTC())
	}
	if f.DateTo != nil {
		q = q.Where("started_at < ?", f.DateTo.UTC())
	}
	if pat := search.LikePattern(f.FreeText); pat != "" {
		// Both sides of the LIKE are case-folded in Go: the pattern here,
		// the *_fold columns at insert time. SQLite's lower() would only
		// cover ASCII.
		q = q.Where(
			`user_id_fold LIKE ? ESCAPE ? OR EXISTS (
				SELECT 1 FROM messages m
				WHERE m.conversation_id = conversations.id
				  AND m.content_fold LIKE ? ESCAPE ?
			)`,
			pat, search.LikeEscape, pat, search.LikeEscape,
		)
	}
	return q
}

// CountConversations returns the total number of conversations matching the
// filter, regardless of pagination.
func CountConversations(ctx context.Context, db *gorm.DB, f ConversationFilter) (int64, error) {
	var total int64
	err := conversationQuery(db.WithContext(ctx), f).Count(&total).Error
	return total, err
}

// SearchConversations returns one page of conversations matching the filter,
// newest-first by StartedAt with ID as a deterministic tiebreak. An offset
// past the end of the result set yields an empty slice, not an error.
func SearchConversations(ctx context.Context, db *gorm.DB, f ConversationFilter, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := conversationQuery(db.WithContext(ctx), f).
		Order("started_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SearchConversationIDs returns the IDs of every conversation matching the
// filter in the same newest-first order as SearchConversations, unpaginated.
// The export generator uses it to materialize a filter-derived scope.
func SearchConversationIDs(ctx context.Context, db *gorm.DB, f ConversationFilter) ([]string, error) {
	var ids []string
	err := conversationQuery(db.WithContext(ctx), f).
		Order("started_at DESC, id DESC").
		Pluck("id", &ids).Error
	return ids, err
}
