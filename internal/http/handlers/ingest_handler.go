// Ingest HTTP handlers.
//
// This file exposes the write side of the conversation log:
//   - POST /conversations/{id}/messages  (append one message)
//   - POST /conversations/{id}/complete  (mark the conversation completed)
//
// Appends support safe retries: when the client supplies an Idempotency-Key
// header, the message and its (conversation, key) receipt commit in one
// store transaction, and a retry with the same key re-serves the previously
// persisted message instead of appending a duplicate.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/http/middleware"
	"github.com/retaildesk/go-support-log/internal/services"
)

// HeaderIdempotentReplay marks a response that re-served a previously
// persisted message instead of appending a new one.
const HeaderIdempotentReplay = "Idempotent-Replayed"

//
// DTOs
//

// AppendMessageRequest is the JSON payload for appending a message.
//
// UserID and Platform identify the originating channel and end user. They are
// required on the append that creates the conversation and, when present on
// later appends, must match the stored header.
type AppendMessageRequest struct {
	UserID     string     `json:"user_id"     example:"wa-4479001122"`
	Platform   string     `json:"platform"    example:"whatsapp" enums:"whatsapp,web"`
	SenderType string     `json:"sender_type" binding:"required" example:"user" enums:"user,bot"`
	Content    string     `json:"content"     binding:"required" example:"Where is my order?"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Intent     *string    `json:"intent,omitempty"     example:"order_status"`
	Confidence *float64   `json:"confidence,omitempty" example:"0.93"`
}

// CompleteConversationRequest is the JSON payload for completing a
// conversation.
type CompleteConversationRequest struct {
	DurationMinutes *float64 `json:"duration_minutes" binding:"required" example:"12.5"`
}

//
// Handlers
//

// AppendMessage godoc
// @ID          appendMessage
// @Summary     Append a message to a conversation
// @Description Appends one message. The conversation record is created on the first append for a new id; user_id and platform are required on that first append. Supply an Idempotency-Key header to make retries safe.
// @Tags        Ingest
// @Accept      json
// @Produce     json
//
// @Param       id               path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       Idempotency-Key  header  string  false "Stable key for safe retries"
// @Param       body             body    handlers.AppendMessageRequest  true  "Message payload"
//
// @Success     200  {object} domain.Message "Replayed (previously persisted) message"
// @Success     201  {object} domain.Message
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Conversation completed or origin mismatch"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) AppendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")

	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	key, hasKey := middleware.GetIdempotencyKey(c)

	in := domain.NewMessage{
		UserID:     strings.TrimSpace(req.UserID),
		Platform:   strings.TrimSpace(req.Platform),
		SenderType: strings.TrimSpace(req.SenderType),
		Content:    req.Content,
		Intent:     req.Intent,
		Confidence: req.Confidence,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}

	// Keyed appends go through the receipted path: the message and its
	// receipt commit in one transaction, so a retry after a crash re-serves
	// the prior message instead of appending a duplicate.
	var (
		msg      *domain.Message
		replayed bool
		err      error
	)
	if hasKey {
		msg, replayed, err = h.store.AppendMessageReceipted(ctx, convID, in, key, h.opts.ReceiptTTL)
	} else {
		msg, err = h.store.AppendMessage(ctx, convID, in)
	}
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationCompleted):
			fail(c, http.StatusConflict, ErrCodeConversationDone, "conversation is completed")
		case errors.Is(err, services.ErrOriginMismatch):
			fail(c, http.StatusConflict, ErrCodeOriginMismatch, err.Error())
		case isValidationErr(err):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeAppendFailed, err.Error())
		}
		return
	}
	if replayed {
		c.Header(HeaderIdempotentReplay, "true")
		ok(c, http.StatusOK, msg)
		return
	}

	ok(c, http.StatusCreated, msg)
}

// isValidationErr reports whether err is one of the input validation errors
// surfaced by the store boundary.
func isValidationErr(err error) bool {
	return errors.Is(err, domain.ErrInvalidPlatform) ||
		errors.Is(err, domain.ErrInvalidSender) ||
		errors.Is(err, domain.ErrEmptyContent) ||
		errors.Is(err, domain.ErrEmptyUser) ||
		errors.Is(err, domain.ErrInvalidConfidence)
}

// CompleteConversation godoc
// @ID          completeConversation
// @Summary     Mark a conversation completed
// @Description Performs the one-way in_progress -> completed transition and records the conversation duration. Completing an already completed conversation is a no-op.
// @Tags        Ingest
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true "Conversation ID (UUID)"  format(uuid)
// @Param       body  body  handlers.CompleteConversationRequest  true  "Completion payload"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/complete [post]
func (h *Handlers) CompleteConversation(c *gin.Context) {
	var req CompleteConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DurationMinutes == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "duration_minutes required")
		return
	}

	err := h.store.MarkCompleted(c.Request.Context(), c.Param("id"), *req.DurationMinutes)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidDuration):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}
