// Package dashboard implements the operator-facing view controller: the
// bridge between operator intent (load a page, apply filters, open one
// conversation, export) and the query engine / export generator.
//
// Each view owns one Controller. Its state machine is explicit:
//
//	idle → loading → (success | error) → idle
//
// with no queued requests: a new request supersedes any in-flight one. The
// superseded request's context is cancelled and its response, if it still
// arrives, is discarded rather than rendered (generation counter, not ad hoc
// boolean flags). Failures are non-destructive: the previously rendered
// conversations and detail pane survive an error, which is only surfaced as
// a message.
//
// All view state lives in a snapshot struct returned by Snapshot(); nothing
// is shared mutable with the embedding UI.
package dashboard

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/services"
)

// Phase is the controller's request-lifecycle state.
type Phase string

// Controller phases. Success and error both settle back to idle; the
// distinction is carried by View.Err.
const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
)

// Querier is the slice of the query engine the controller needs.
type Querier interface {
	Search(ctx context.Context, f services.QueryFilter, limit, offset int) (*services.QueryResult, error)
}

// ConversationReader loads one conversation's header and messages.
type ConversationReader interface {
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListMessages(ctx context.Context, id string) ([]domain.Message, error)
}

// Exporter produces a downloadable artifact for an export request.
type Exporter interface {
	Export(ctx context.Context, req services.ExportRequest, w io.Writer) error
	Filename(format services.ExportFormat, now time.Time) string
}

// Detail is the expanded single-conversation pane.
type Detail struct {
	Conversation domain.Conversation
	Messages     []domain.Message
}

// View is an immutable snapshot of everything the UI renders.
type View struct {
	Phase    Phase
	Filter   services.QueryFilter
	Page     int
	PageSize int
	Total    int64
	// Conversations is the current result page.
	Conversations []domain.Conversation
	// Detail is the currently opened conversation, if any.
	Detail *Detail
	// Err is the last surfaced error message; empty after a success.
	Err string
}

// TotalPages returns ceil(Total/PageSize), or 0 for an empty result set.
func (v View) TotalPages() int {
	if v.PageSize <= 0 || v.Total <= 0 {
		return 0
	}
	return int((v.Total + int64(v.PageSize) - 1) / int64(v.PageSize))
}

// Controller drives one dashboard view. Methods are safe for concurrent use;
// the latest call wins.
type Controller struct {
	querier  Querier
	reader   ConversationReader
	exporter Exporter

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	view   View
}

// New constructs a Controller with the given collaborators and page size.
// A pageSize <= 0 defaults to 20.
func New(q Querier, r ConversationReader, e Exporter, pageSize int) *Controller {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Controller{
		querier:  q,
		reader:   r,
		exporter: e,
		view: View{
			Phase:         PhaseIdle,
			Page:          1,
			PageSize:      pageSize,
			Conversations: []domain.Conversation{},
		},
	}
}

// Snapshot returns a copy of the current view state.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// begin starts a new request generation: it cancels any in-flight request,
// flips the view to loading, and returns the context the new request must
// run under.
func (c *Controller) begin(parent context.Context) (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.view.Phase = PhaseLoading
	return ctx, c.gen
}

// commit applies fn to the view iff gen is still the latest request. A stale
// (superseded) response is discarded. It returns whether the commit landed.
func (c *Controller) commit(gen uint64, fn func(*View)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	fn(&c.view)
	c.view.Phase = PhaseIdle
	c.cancel = nil
	return true
}

// ApplyFilter replaces the active filter and loads page 1 under it.
func (c *Controller) ApplyFilter(ctx context.Context, f services.QueryFilter) error {
	return c.load(ctx, f, 1)
}

// Refresh reloads the current page under the current filter (the operator's
// manual retry after a transport failure).
func (c *Controller) Refresh(ctx context.Context) error {
	v := c.Snapshot()
	return c.load(ctx, v.Filter, v.Page)
}

// LoadPage navigates to page n (1-indexed), clamped to the valid range for
// the last known total. Page 1 is always loadable.
func (c *Controller) LoadPage(ctx context.Context, n int) error {
	v := c.Snapshot()
	if n < 1 {
		n = 1
	}
	if tp := v.TotalPages(); tp > 0 && n > tp {
		n = tp
	}
	return c.load(ctx, v.Filter, n)
}

// NextPage advances one page. Past the last page it is a no-op.
func (c *Controller) NextPage(ctx context.Context) error {
	v := c.Snapshot()
	if v.Page >= v.TotalPages() {
		return nil
	}
	return c.load(ctx, v.Filter, v.Page+1)
}

// PrevPage goes back one page. On page 1 it is a no-op.
func (c *Controller) PrevPage(ctx context.Context) error {
	v := c.Snapshot()
	if v.Page <= 1 {
		return nil
	}
	return c.load(ctx, v.Filter, v.Page-1)
}

func (c *Controller) load(parent context.Context, f services.QueryFilter, page int) error {
	ctx, gen := c.begin(parent)
	pageSize := c.Snapshot().PageSize

	res, err := c.querier.Search(ctx, f, pageSize, (page-1)*pageSize)
	if err != nil {
		c.commit(gen, func(v *View) { v.Err = err.Error() })
		return err
	}
	c.commit(gen, func(v *View) {
		v.Filter = f
		v.Page = page
		v.Total = res.Total
		v.Conversations = res.Conversations
		v.Err = ""
	})
	return nil
}

// ViewConversation loads one conversation's header plus full message list
// into the detail pane. On failure the prior pane content is left intact.
func (c *Controller) ViewConversation(parent context.Context, id string) error {
	ctx, gen := c.begin(parent)

	conv, err := c.reader.GetConversation(ctx, id)
	if err != nil {
		c.commit(gen, func(v *View) { v.Err = err.Error() })
		return err
	}
	msgs, err := c.reader.ListMessages(ctx, id)
	if err != nil {
		c.commit(gen, func(v *View) { v.Err = err.Error() })
		return err
	}
	c.commit(gen, func(v *View) {
		v.Detail = &Detail{Conversation: *conv, Messages: msgs}
		v.Err = ""
	})
	return nil
}

// Export generates an artifact for the given request and writes it to w.
// When the request carries no explicit ids, the scope is the view's active
// filter. The returned filename embeds the export date stamp. Abandoning the
// export (a superseding request or parent cancellation) frees the scope
// snapshot; a failed export writes nothing.
func (c *Controller) Export(parent context.Context, req services.ExportRequest, w io.Writer) (filename string, err error) {
	ctx, gen := c.begin(parent)

	if len(req.ConversationIDs) == 0 {
		req.Filter = c.Snapshot().Filter
	}
	if err := c.exporter.Export(ctx, req, w); err != nil {
		c.commit(gen, func(v *View) { v.Err = err.Error() })
		return "", err
	}
	c.commit(gen, func(v *View) { v.Err = "" })
	return c.exporter.Filename(req.Format, time.Now()), nil
}
