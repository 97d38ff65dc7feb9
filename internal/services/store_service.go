// Package services – ConversationStore
//
// This file implements the ConversationStore, the application-level component
// that owns the durable conversation log. It validates input at the store
// boundary, serializes appends per conversation so the message sequence can
// never interleave, and enforces the one-way status transition.
//
// Policy decisions (documented here because the upstream behavior allows
// either choice):
//   - AppendMessage auto-creates the conversation on first use; the
//     originating channel supplies platform/user_id with the first message,
//     so an explicit create call would add nothing.
//   - MarkCompleted is an idempotent no-op when the conversation is already
//     completed.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include the conversation identifier.
package services

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// appendStripes is the number of mutexes the per-conversation lock space is
// hashed into. Appends to different conversations almost always proceed in
// parallel; appends to the same conversation are fully serialized.
const appendStripes = 64

// ConversationStore coordinates durable persistence of conversations and
// their ordered messages. It is the only writer; the dashboard side is a
// read-only consumer.
type ConversationStore struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	locks [appendStripes]sync.Mutex
}

// NewConversationStore constructs a ConversationStore over the given handle.
func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{DB: db}
}

// lockFor returns the stripe mutex guarding a conversation id.
func (s *ConversationStore) lockFor(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &s.locks[h.Sum32()%appendStripes]
}

// AppendMessage appends a message to the conversation, creating the
// conversation record on the first append for a new id. The message sequence
// number and the conversation's messages_count are assigned in one
// transaction, so a reader always sees either the pre- or post-append state.
//
// Supplied timestamps that would run backwards within the conversation are
// clamped to the previous message's timestamp, keeping the sequence
// non-decreasing.
//
// Errors: domain validation errors for malformed input, ErrOriginMismatch
// for contradictory platform/user_id, ErrConversationCompleted for appends
// after completion. DB failures are propagated unchanged.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID string, in domain.NewMessage) (*domain.Message, error) {
	tr := otel.Tracer("services/ConversationStore")
	ctx, span := tr.Start(ctx, "AppendMessage",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	var created *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := appendInTx(ctx, tx, conversationID, in)
		if err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AppendMessageReceipted is AppendMessage with an Idempotency-Key receipt
// committed in the same transaction as the message. A live receipt for
// (conversation, key) short-circuits the append and re-serves the prior
// message (replayed=true); otherwise the message and its receipt become
// durable together, so a crash can never leave a committed message that a
// retry would duplicate.
func (s *ConversationStore) AppendMessageReceipted(ctx context.Context, conversationID string, in domain.NewMessage, key string, ttl time.Duration) (*domain.Message, bool, error) {
	tr := otel.Tracer("services/ConversationStore")
	ctx, span := tr.Start(ctx, "AppendMessageReceipted",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	var created *domain.Message
	var replayed bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, rerr := repo.GetReceipt(ctx, tx, conversationID, key, time.Now().UTC())
		if rerr == nil {
			prior, merr := repo.GetMessage(ctx, tx, rec.MessageID)
			if merr != nil {
				return merr
			}
			created, replayed = prior, true
			return nil
		}
		if !errors.Is(rerr, repo.ErrNotFound) {
			return rerr
		}

		m, err := appendInTx(ctx, tx, conversationID, in)
		if err != nil {
			return err
		}
		if _, cerr := repo.CreateReceipt(ctx, tx, conversationID, key, m.ID, http.StatusCreated, ttl); cerr != nil {
			if !errors.Is(cerr, repo.ErrDuplicate) {
				return cerr
			}
			// The key's previous receipt expired but has not been swept
			// yet; re-point it at the new message.
			if uerr := repo.RefreshReceipt(ctx, tx, conversationID, key, m.ID, http.StatusCreated, ttl); uerr != nil {
				return uerr
			}
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return created, replayed, nil
}

// appendInTx performs the append inside an open transaction. Callers hold
// the conversation's stripe lock.
func appendInTx(ctx context.Context, tx *gorm.DB, conversationID string, in domain.NewMessage) (*domain.Message, error) {
	conv, err := repo.GetConversation(ctx, tx, conversationID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// First message for this id: validate the full origin and
		// create the header.
		if verr := in.Validate(true); verr != nil {
			return nil, verr
		}
		startedAt := in.Timestamp
		if startedAt.IsZero() {
			startedAt = time.Now()
		}
		conv, err = repo.CreateConversation(ctx, tx, conversationID, in.UserID, in.Platform, startedAt)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if verr := in.Validate(false); verr != nil {
			return nil, verr
		}
		if conv.Completed() {
			return nil, ErrConversationCompleted
		}
		if (in.UserID != "" && in.UserID != conv.UserID) ||
			(in.Platform != "" && in.Platform != conv.Platform) {
			return nil, ErrOriginMismatch
		}
	}

	// Keep timestamps non-decreasing within the conversation.
	last, err := repo.LastMessageAt(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	if last != nil && in.Timestamp.Before(*last) {
		in.Timestamp = *last
	}

	seq := conv.MessagesCount + 1
	m, err := repo.CreateMessage(tx, conversationID, seq, in)
	if err != nil {
		return nil, err
	}
	if err := repo.SetMessagesCount(ctx, tx, conversationID, seq); err != nil {
		return nil, err
	}
	return m, nil
}

// GetConversation returns the conversation header (and nothing else).
func (s *ConversationStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationStore")
	ctx, span := tr.Start(ctx, "GetConversation",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()

	conv, err := repo.GetConversation(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

// ListMessages returns the full ordered message sequence for a conversation.
// A known conversation with no messages yields an empty slice; an unknown id
// yields ErrConversationNotFound.
func (s *ConversationStore) ListMessages(ctx context.Context, id string) ([]domain.Message, error) {
	tr := otel.Tracer("services/ConversationStore")
	ctx, span := tr.Start(ctx, "ListMessages",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()

	exists, err := repo.ConversationExists(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrConversationNotFound
	}
	msgs, err := repo.ListMessages(ctx, s.DB, id, 0)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// MarkCompleted performs the one-way in_progress → completed transition,
// recording the conversation duration. Calling it again for an already
// completed conversation is a no-op.
func (s *ConversationStore) MarkCompleted(ctx context.Context, id string, durationMinutes float64) error {
	tr := otel.Tracer("services/ConversationStore")
	ctx, span := tr.Start(ctx, "MarkCompleted",
		trace.WithAttributes(
			attribute.String("conversation.id", id),
			attribute.Float64("duration.minutes", durationMinutes),
		),
	)
	defer span.End()

	if durationMinutes < 0 {
		return ErrInvalidDuration
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	_, err := repo.CompleteConversation(ctx, s.DB, id, durationMinutes)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrConversationNotFound
	}
	return err
}
