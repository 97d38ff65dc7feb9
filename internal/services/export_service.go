// Package services – ExportService
//
// This file implements the export generator: it serializes a set of
// conversations (optionally with full message bodies) into a downloadable
// CSV or JSON artifact.
//
// Scheme decisions (documented for round-trip testing):
//   - CSV uses record-typed rows over one shared column set: a "conversation"
//     row per conversation and, when messages are included, one "message" row
//     per message immediately after its conversation row. Columns a row does
//     not use stay empty.
//   - JSON is an array of conversation records; each embeds an ordered
//     "messages" array when messages are included and omits the field
//     otherwise.
//   - Timestamps are RFC 3339 (nanosecond precision, UTC), so output bytes
//     are stable for the same conversation set and flags. The only varying
//     part of an export is the date stamp in the filename.
//
// Exports are all-or-nothing: the artifact is staged in memory and written
// out only when the whole scope serialized cleanly. A missing requested id
// aborts the export with ErrExportNotFound before any byte is produced.
package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ExportFormat selects the artifact encoding.
type ExportFormat string

// Supported export formats.
const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ParseFormat validates a raw format string.
func ParseFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", ErrInvalidFormat
	}
}

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// ExportRequest describes one export operation. When ConversationIDs is
// empty, the scope is derived from Filter (the dashboard's last active
// filter, supplied by the caller).
type ExportRequest struct {
	Format          ExportFormat
	IncludeMessages bool
	ConversationIDs []string
	Filter          QueryFilter

	// MaxRows caps the number of conversations in the resolved scope,
	// explicit or filter-derived alike. 0 means unlimited.
	MaxRows int
}

// ExportService produces downloadable conversation artifacts.
type ExportService struct {
	// DB is the GORM handle used for reads.
	DB *gorm.DB
}

// NewExportService constructs an ExportService over the given handle.
func NewExportService(db *gorm.DB) *ExportService {
	return &ExportService{DB: db}
}

// Filename returns the download name for an export generated at now.
// The timestamp lives only here, never in the artifact body.
func (s *ExportService) Filename(format ExportFormat, now time.Time) string {
	return fmt.Sprintf("conversations_export_%s.%s", now.UTC().Format("20060102_150405"), format)
}

// exportRecord is the JSON shape of one exported conversation.
type exportRecord struct {
	domain.Conversation
	Messages []domain.Message `json:"messages,omitempty"`
}

// Export resolves the request scope, serializes it, and writes the complete
// artifact to w. Nothing is written on error, so a partial file is never
// offered for download. The context is honored between conversations, which
// keeps an abandoned export from holding the scope snapshot.
func (s *ExportService) Export(ctx context.Context, req ExportRequest, w io.Writer) error {
	tr := otel.Tracer("services/ExportService")
	ctx, span := tr.Start(ctx, "Export",
		trace.WithAttributes(
			attribute.String("export.format", string(req.Format)),
			attribute.Bool("export.include_messages", req.IncludeMessages),
			attribute.Int("export.explicit_ids", len(req.ConversationIDs)),
		),
	)
	defer span.End()

	if _, err := ParseFormat(string(req.Format)); err != nil {
		return err
	}

	records, err := s.resolveScope(ctx, req)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch req.Format {
	case FormatCSV:
		err = writeCSV(&buf, records, req.IncludeMessages)
	default:
		err = writeJSON(&buf, records)
	}
	if err != nil {
		return errors.Join(ErrExportEncode, err)
	}

	_, err = w.Write(buf.Bytes())
	return err
}

// resolveScope loads the conversations (and, when requested, their messages)
// covered by the request. Explicit ids keep their given order; a
// filter-derived scope is newest-first.
func (s *ExportService) resolveScope(ctx context.Context, req ExportRequest) ([]exportRecord, error) {
	ids := req.ConversationIDs
	if len(ids) == 0 {
		var err error
		ids, err = repo.SearchConversationIDs(ctx, s.DB, repo.ConversationFilter{
			FreeText: req.Filter.FreeText,
			Platform: req.Filter.Platform,
			UserID:   req.Filter.UserID,
			DateFrom: req.Filter.DateFrom,
			DateTo:   req.Filter.DateTo,
		})
		if err != nil {
			return nil, err
		}
	}
	if req.MaxRows > 0 && len(ids) > req.MaxRows {
		return nil, fmt.Errorf("%w: %d > %d", ErrExportTooLarge, len(ids), req.MaxRows)
	}

	records := make([]exportRecord, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conv, err := repo.GetConversation(ctx, s.DB, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExportNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		rec := exportRecord{Conversation: *conv}
		if req.IncludeMessages {
			msgs, err := repo.ListMessages(ctx, s.DB, id, 0)
			if err != nil {
				return nil, err
			}
			rec.Messages = msgs
		}
		records = append(records, rec)
	}
	return records, nil
}

// csvHeader is the shared column set for both record types.
var csvHeader = []string{
	"record_type", "conversation_id", "user_id", "platform", "started_at",
	"status", "messages_count", "duration_minutes",
	"message_id", "seq", "sender_type", "content", "timestamp", "intent", "confidence",
}

func writeCSV(w io.Writer, records []exportRecord, includeMessages bool) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		c := rec.Conversation
		duration := ""
		if c.DurationMinutes != nil {
			duration = strconv.FormatFloat(*c.DurationMinutes, 'f', -1, 64)
		}
		row := []string{
			"conversation", c.ID, c.UserID, c.Platform,
			c.StartedAt.UTC().Format(time.RFC3339Nano),
			c.Status, strconv.FormatInt(c.MessagesCount, 10), duration,
			"", "", "", "", "", "", "",
		}
		if err := cw.Write(row); err != nil {
			return err
		}
		if !includeMessages {
			continue
		}
		for _, m := range rec.Messages {
			intent := ""
			if m.Intent != nil {
				intent = *m.Intent
			}
			confidence := ""
			if m.Confidence != nil {
				confidence = strconv.FormatFloat(*m.Confidence, 'f', -1, 64)
			}
			row := []string{
				"message", m.ConversationID, "", "", "", "", "", "",
				m.ID, strconv.FormatInt(m.Seq, 10), m.SenderType, m.Content,
				m.CreatedAt.UTC().Format(time.RFC3339Nano), intent, confidence,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, records []exportRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
