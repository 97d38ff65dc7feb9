// Export HTTP handlers.
//
// This file exposes the export download endpoint:
//   - GET /exports  (CSV or JSON artifact of a conversation set)
//
// The artifact is fully staged before the first byte is sent, so a client
// never downloads a truncated file: any resolution or encoding failure turns
// into a structured error response instead.
package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/services"
)

// Export godoc
// @ID          exportConversations
// @Summary     Download a conversation export
// @Description Serializes a set of conversations into a CSV or JSON artifact. The scope is either an explicit ids list or every conversation matching the filter parameters; an explicit id that does not exist aborts the export.
// @Tags        Exports
// @Produce     json
// @Produce     text/csv
//
// @Param       format            query  string  true  "Artifact encoding"  Enums(csv, json)
// @Param       include_messages  query  bool    false "Embed full message bodies"  default(false)
// @Param       ids               query  string  false "Comma-separated conversation IDs (overrides filters)"
// @Param       free_text         query  string  false "Substring match on message content or user id"
// @Param       platform          query  string  false "Channel tag"  Enums(whatsapp, web)
// @Param       user_id           query  string  false "Exact end-user identifier"
// @Param       date_from         query  string  false "Inclusive lower bound (RFC 3339)"
// @Param       date_to           query  string  false "Exclusive upper bound (RFC 3339)"
//
// @Success     200  {file}   file "Export artifact"
// @Header      200  {string} Content-Disposition "attachment; filename=conversations_export_<stamp>.<ext>"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Requested conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Export failed"
// @Router      /exports [get]
func (h *Handlers) Export(c *gin.Context) {
	format, err := services.ParseFormat(strings.TrimSpace(c.Query("format")))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	f, err := parseFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	req := services.ExportRequest{
		Format:          format,
		IncludeMessages: strings.EqualFold(c.Query("include_messages"), "true"),
		Filter:          f,
		MaxRows:         h.opts.ExportMaxRows,
	}
	if raw := strings.TrimSpace(c.Query("ids")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.ConversationIDs = append(req.ConversationIDs, id)
			}
		}
	}

	// Stage the whole artifact before touching the response writer.
	var buf bytes.Buffer
	if err := h.exporter.Export(c.Request.Context(), req, &buf); err != nil {
		switch {
		case errors.Is(err, services.ErrExportNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		case errors.Is(err, services.ErrInvalidFormat),
			errors.Is(err, services.ErrExportTooLarge),
			errors.Is(err, domain.ErrInvalidPlatform):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeExportFailed, err.Error())
		}
		return
	}

	filename := h.exporter.Filename(format, time.Now())
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}
