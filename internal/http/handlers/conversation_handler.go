// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - GET /conversations                (list, filtered + paginated, ETag support)
//   - GET /conversations/{id}           (fetch one header)
//   - GET /conversations/{id}/messages  (full ordered message sequence, ETag support)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/repo"
	"github.com/retaildesk/go-support-log/internal/services"
	"github.com/retaildesk/go-support-log/internal/utils"
)

//
// Service contracts (context-aware)
//

// StoreService defines conversation log operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type StoreService interface {
	// AppendMessage appends one message, creating the conversation on first use.
	AppendMessage(ctx context.Context, conversationID string, in domain.NewMessage) (*domain.Message, error)
	// AppendMessageReceipted appends with an idempotency receipt committed in
	// the same transaction; replayed reports that a prior message was
	// re-served instead.
	AppendMessageReceipted(ctx context.Context, conversationID string, in domain.NewMessage, key string, ttl time.Duration) (msg *domain.Message, replayed bool, err error)
	// GetConversation returns the conversation header.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	// ListMessages returns the full ordered message sequence.
	ListMessages(ctx context.Context, id string) ([]domain.Message, error)
	// MarkCompleted performs the one-way in_progress -> completed transition.
	MarkCompleted(ctx context.Context, id string, durationMinutes float64) error
}

// QueryEngine resolves filter specifications against the conversation log.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type QueryEngine interface {
	// Search returns one page of conversations and the total match count.
	Search(ctx context.Context, f services.QueryFilter, limit, offset int) (*services.QueryResult, error)
}

// ExportEngine produces downloadable conversation artifacts.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ExportEngine interface {
	// Export serializes the request scope and writes the complete artifact to w.
	Export(ctx context.Context, req services.ExportRequest, w io.Writer) error
	// Filename returns the download name for an export generated at now.
	Filename(format services.ExportFormat, now time.Time) string
}

//
// Handler wiring
//

// Options tunes handler behavior beyond the service dependencies.
type Options struct {
	// ReceiptTTL is how long an Idempotency-Key receipt stays replayable.
	ReceiptTTL time.Duration
	// ExportMaxRows caps the number of conversations per export (0 = unlimited).
	ExportMaxRows int
}

// Handlers groups HTTP endpoints for conversation ingest, retrieval, and
// export. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	store    StoreService
	query    QueryEngine
	exporter ExportEngine
	opts     Options
}

// New constructs and returns a Handlers instance bound to the given services.
func New(store StoreService, query QueryEngine, exporter ExportEngine, opts Options) *Handlers {
	if opts.ReceiptTTL <= 0 {
		opts.ReceiptTTL = 24 * time.Hour
	}
	return &Handlers{store: store, query: query, exporter: exporter, opts: opts}
}

// db returns the underlying GORM handle when the store is the concrete
// service type. Used for best-effort extras (ETag stats) that
// interface-backed test doubles do not need.
func (h *Handlers) db() *gorm.DB {
	if svc, ok := h.store.(*services.ConversationStore); ok {
		return svc.DB
	}
	return nil
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations and pagination
// information.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// MessagesResponse wraps the ordered message sequence of one conversation.
type MessagesResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
}

//
// Helpers
//

// parseFilter builds a QueryFilter from the shared query parameters used by
// the list and export endpoints. Dates are RFC 3339; date_from is inclusive,
// date_to exclusive.
func parseFilter(c *gin.Context) (services.QueryFilter, error) {
	f := services.QueryFilter{
		FreeText: strings.TrimSpace(c.Query("free_text")),
		Platform: strings.TrimSpace(c.Query("platform")),
		UserID:   strings.TrimSpace(c.Query("user_id")),
	}
	if raw := strings.TrimSpace(c.Query("date_from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("date_from: %w", err)
		}
		f.DateFrom = &t
	}
	if raw := strings.TrimSpace(c.Query("date_to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("date_to: %w", err)
		}
		f.DateTo = &t
	}
	return f, nil
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (filtered, paginated)
// @Description Returns a page of conversations, newest-first. All filters are optional and conjunctive. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"            example(W/\"convs:42:1700000000\")
// @Param       free_text      query   string  false "Substring match on message content or user id"
// @Param       platform       query   string  false "Channel tag"                           Enums(whatsapp, web)
// @Param       user_id        query   string  false "Exact end-user identifier"
// @Param       date_from      query   string  false "Inclusive lower bound (RFC 3339)"
// @Param       date_to        query   string  false "Exclusive upper bound (RFC 3339)"
// @Param       page           query   int     false "Page number"                           minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"                        minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag "Weak ETag for current log state"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()

	f, err := parseFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	page, pageSize := utils.PageParams(c.Query("page"), c.Query("page_size"), 20, 100)

	// ETag pre-check (best effort). Any append or completion bumps the log's
	// max updated_at, so (count, maxTS) detects change for every filter.
	if db := h.db(); db != nil {
		count, maxTS, serr := repo.ConversationsStats(ctx, db)
		if serr == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"convs:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	res, err := h.query.Search(ctx, f, pageSize, (page-1)*pageSize)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPlatform) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := utils.TotalPages(res.Total, pageSize)
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: res.Conversations,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      res.Total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Fetch one conversation header
// @Description Returns the conversation header (status, counts, duration) without its messages.
// @Tags        Conversations
// @Produce     json
//
// @Param       id  path  string  true "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Conversation
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	conv, err := h.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, conv)
}

// ListConversationMessages godoc
// @ID          listConversationMessages
// @Summary     List the messages of a conversation
// @Description Returns the full message sequence ordered by position. A known conversation with no messages yields an empty array. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       id             path    string  true  "Conversation ID (UUID)"      format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.MessagesResponse
// @Header      200  {string} ETag "Weak ETag for current message sequence"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")

	// ETag pre-check (best effort).
	if db := h.db(); db != nil {
		count, maxTS, serr := repo.MessagesStats(ctx, db, convID)
		if serr == nil && count > 0 {
			etag := fmt.Sprintf(`W/"msgs:%s:%d:%d"`, convID, count, maxTS.Unix())
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	msgs, err := h.store.ListMessages(ctx, convID)
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, MessagesResponse{ConversationID: convID, Messages: msgs})
}
