// Package services defines the business logic for the conversation store,
// the query engine, and the export generator. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Conversation store errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationCompleted is returned when an append targets a
	// conversation that already reached its terminal status. Completion
	// freezes the message sequence, so late appends are an illegal
	// transition rather than a silent reorder.
	ErrConversationCompleted = errors.New("conversation already completed")

	// ErrOriginMismatch is returned when an append supplies a platform or
	// user identifier that contradicts the stored conversation header.
	// Both fields are immutable once set.
	ErrOriginMismatch = errors.New("platform/user_id do not match the conversation")

	// ErrInvalidDuration is returned when mark-completed is called with a
	// negative duration.
	ErrInvalidDuration = errors.New("duration_minutes must be >= 0")
)

// Export errors. Exports are all-or-nothing: any of these means no artifact
// was produced.
var (
	// ErrExportNotFound indicates that an explicitly requested conversation
	// id does not exist in the store.
	ErrExportNotFound = errors.New("export scope references a missing conversation")

	// ErrExportEncode indicates a serialization failure while building the
	// artifact.
	ErrExportEncode = errors.New("export serialization failed")

	// ErrExportTooLarge indicates the resolved scope exceeds the configured
	// per-export row cap, whether the ids were explicit or filter-derived.
	ErrExportTooLarge = errors.New("export exceeds the conversation row cap")

	// ErrInvalidFormat is returned for an unknown export format.
	ErrInvalidFormat = errors.New("format must be one of: csv, json")
)
