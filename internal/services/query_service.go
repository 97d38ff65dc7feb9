// Package services – QueryService
//
// This file implements the query engine: it resolves a filter specification
// into one bounded page of conversations plus the total match count. Filters
// are conjunctive; an absent filter imposes no restriction. The documented
// free_text semantics are a case-insensitive substring match against message
// content or the end-user identifier (see internal/search).
//
// The engine is a pure read: total and page are computed from the same
// predicate builder, so they cannot drift apart.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QueryFilter is the dashboard-facing filter specification. Zero values mean
// "no restriction". DateFrom is inclusive, DateTo exclusive.
type QueryFilter struct {
	FreeText string     `json:"free_text,omitempty"`
	Platform string     `json:"platform,omitempty"`
	UserID   string     `json:"user_id,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
}

// repoFilter maps the public filter onto the repository predicate.
func (f QueryFilter) repoFilter() repo.ConversationFilter {
	return repo.ConversationFilter{
		FreeText: f.FreeText,
		Platform: f.Platform,
		UserID:   f.UserID,
		DateFrom: f.DateFrom,
		DateTo:   f.DateTo,
	}
}

// QueryResult is one resolved page: at most limit conversations,
// newest-first, plus the total count over the whole predicate.
type QueryResult struct {
	Conversations []domain.Conversation `json:"conversations"`
	Total         int64                 `json:"total"`
}

// QueryService resolves filter specifications against the conversation store.
type QueryService struct {
	// DB is the GORM handle used for reads.
	DB *gorm.DB
}

// NewQueryService constructs a QueryService over the given handle.
func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{DB: db}
}

// Search returns one page of conversations matching the filter and the total
// match count. Defaults are applied for out-of-range limit/offset (limit 20,
// offset 0); an invalid platform tag is rejected before touching the DB. An
// offset beyond the total yields an empty page with the correct total.
func (s *QueryService) Search(ctx context.Context, f QueryFilter, limit, offset int) (*QueryResult, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("filter.platform", f.Platform),
			attribute.Int("limit", limit),
			attribute.Int("offset", offset),
		),
	)
	defer span.End()

	if f.Platform != "" && !domain.ValidPlatform(f.Platform) {
		return nil, domain.ErrInvalidPlatform
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rf := f.repoFilter()
	total, err := repo.CountConversations(ctx, s.DB, rf)
	if err != nil {
		return nil, err
	}
	if total == 0 || int64(offset) >= total {
		return &QueryResult{Conversations: []domain.Conversation{}, Total: total}, nil
	}

	items, err := repo.SearchConversations(ctx, s.DB, rf, offset, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Conversation{}
	}
	return &QueryResult{Conversations: items, Total: total}, nil
}

// MatchingIDs returns the ids of every conversation the filter matches,
// newest-first and unpaginated. The export generator uses it to materialize
// a filter-derived scope.
func (s *QueryService) MatchingIDs(ctx context.Context, f QueryFilter) ([]string, error) {
	if f.Platform != "" && !domain.ValidPlatform(f.Platform) {
		return nil, domain.ErrInvalidPlatform
	}
	return repo.SearchConversationIDs(ctx, s.DB, f.repoFilter())
}
