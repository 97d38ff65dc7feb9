// Package domain defines the persistence models for conversations and their
// messages. These types are mapped with GORM and form the core data layer of
// the support-log backend: the durable record every other component (query
// engine, export generator, dashboard) reads from.
package domain

import (
	"errors"
	"strings"
	"time"
)

// Conversation status values. The transition is one-way:
// in_progress → completed, performed by the conversation-handling
// collaborator when it judges the dialogue finished.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Sender types attributed to a message.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Known originating channels. The store accepts only these values so that
// dashboard filters stay a closed enum.
const (
	PlatformWhatsApp = "whatsapp"
	PlatformWeb      = "web"
)

// Conversation is one end-to-end dialogue session between a user and the
// assistant on a given channel.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), assigned at creation, immutable.
//   - UserID: end-user identifier supplied by the originating channel; indexed.
//   - Platform: channel tag ("whatsapp", "web"); immutable once set.
//   - StartedAt: timestamp of the first message; immutable.
//   - Status: in_progress or completed (forward-only transition).
//   - MessagesCount: incremented exactly once per appended message.
//   - DurationMinutes: nil while in progress; set once at completion and
//     immutable afterwards.
type Conversation struct {
	ID              string    `json:"conversation_id" gorm:"type:char(36);primaryKey"`
	UserID          string    `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_conv_user"`
	Platform        string    `json:"platform"        gorm:"type:varchar(16);not null;index:idx_conv_platform;check:platform IN ('whatsapp','web')"`
	StartedAt       time.Time `json:"started_at"      gorm:"not null;index:idx_conv_started"`
	Status          string    `json:"status"          gorm:"type:varchar(16);not null;default:'in_progress';check:status IN ('in_progress','completed')"`
	MessagesCount   int64     `json:"messages_count"  gorm:"not null;default:0"`
	DurationMinutes *float64  `json:"duration_minutes,omitempty"`
	UpdatedAt       time.Time `json:"-"`

	// UserIDFold is the case-folded shadow of UserID, written at creation.
	// The free-text predicate compares folded patterns against it so that
	// matching stays case-insensitive beyond ASCII (SQLite's lower() is
	// ASCII-only). Never exposed.
	UserIDFold string `json:"-" gorm:"type:varchar(64);not null;default:'';index:idx_conv_user_fold"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Completed reports whether the conversation has reached its terminal status.
func (c *Conversation) Completed() bool { return c.Status == StatusCompleted }

// Message is one turn within a conversation, attributed to the user or the
// bot. A message never outlives or is reassigned from its conversation.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: foreign key to the owning conversation (indexed).
//   - Seq: 1-based position within the conversation; unique per conversation
//     and assigned monotonically under the store's append serialization, so
//     it defines display order together with the timestamp.
//   - SenderType: "user" or "bot" (enforced by DB constraint).
//   - Content: raw text payload, stored unmodified (escaping is a render-time
//     concern).
//   - CreatedAt: message timestamp; non-decreasing within a conversation.
//   - Intent / Confidence: optional annotations from the external classifier;
//     Confidence is within [0,1] when present.
type Message struct {
	ID             string    `json:"message_id"  gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1;uniqueIndex:ux_conv_seq,priority:1"`
	Seq            int64     `json:"seq"         gorm:"not null;index:idx_conv_msgs,priority:2;uniqueIndex:ux_conv_seq,priority:2"`
	SenderType     string    `json:"sender_type" gorm:"type:varchar(8);not null;check:sender_type IN ('user','bot')"`
	Content        string    `json:"content"     gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"timestamp"   gorm:"not null"`
	Intent         *string   `json:"intent,omitempty"     gorm:"type:varchar(64)"`
	Confidence     *float64  `json:"confidence,omitempty" gorm:"check:confidence IS NULL OR (confidence >= 0 AND confidence <= 1)"`

	// ContentFold is the case-folded shadow of Content, written at insert.
	// See Conversation.UserIDFold.
	ContentFold string `json:"-" gorm:"type:text;not null;default:''"`

	// Conversation is the parent record. Messages are cascade-deleted if
	// their conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// NewMessage is the validated input shape for appending a message. It is the
// only way data enters the store: required fields are checked here rather
// than letting undefined values propagate into rows.
type NewMessage struct {
	// Platform and UserID identify the originating channel and end user.
	// They are required on the first append (conversation creation) and,
	// when present on later appends, must match the stored header.
	Platform string
	UserID   string

	// SenderType must be "user" or "bot".
	SenderType string
	// Content is the raw message text; must be non-empty.
	Content string
	// Timestamp is the message creation time; the zero value means "now".
	Timestamp time.Time

	// Optional classifier annotations.
	Intent     *string
	Confidence *float64
}

// Validation errors returned by NewMessage.Validate. They are deliberately
// value errors so the store boundary can reject malformed input before any
// row is written.
var (
	ErrInvalidPlatform   = errors.New("platform must be one of: whatsapp, web")
	ErrInvalidSender     = errors.New("sender_type must be one of: user, bot")
	ErrEmptyContent      = errors.New("content must not be empty")
	ErrEmptyUser         = errors.New("user_id must not be empty")
	ErrInvalidConfidence = errors.New("confidence must be within [0,1]")
)

// ValidPlatform reports whether p is a known channel tag.
func ValidPlatform(p string) bool {
	return p == PlatformWhatsApp || p == PlatformWeb
}

// Validate checks the required fields and annotation ranges. requireOrigin
// controls whether Platform/UserID are mandatory (they are on the append that
// creates the conversation).
func (m *NewMessage) Validate(requireOrigin bool) error {
	if requireOrigin {
		if strings.TrimSpace(m.UserID) == "" {
			return ErrEmptyUser
		}
		if !ValidPlatform(m.Platform) {
			return ErrInvalidPlatform
		}
	} else if m.Platform != "" && !ValidPlatform(m.Platform) {
		return ErrInvalidPlatform
	}
	if m.SenderType != SenderUser && m.SenderType != SenderBot {
		return ErrInvalidSender
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if m.Confidence != nil && (*m.Confidence < 0 || *m.Confidence > 1) {
		return ErrInvalidConfidence
	}
	return nil
}
