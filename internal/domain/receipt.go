// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// IngestReceipt records a previously processed append, keyed by
// (conversation_id, key). Channel adapters retry on flaky networks; the
// receipt lets the ingest endpoint return the originally created message
// instead of appending a duplicate.
type IngestReceipt struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ConversationID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_conv_ingest_key,priority:1"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_conv_ingest_key,priority:2"`
	MessageID      string    `gorm:"type:TEXT NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (IngestReceipt) TableName() string { return "ingest_receipts" }
