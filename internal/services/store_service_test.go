package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/retaildesk/go-support-log/internal/domain"
	"github.com/retaildesk/go-support-log/internal/repo"
)

// newServiceDB opens a throwaway sqlite database with the full schema
// migrated, matching what cmd/server does at startup.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "svc.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func userMsg(content string) domain.NewMessage {
	return domain.NewMessage{
		UserID:     "alice",
		Platform:   domain.PlatformWeb,
		SenderType: domain.SenderUser,
		Content:    content,
	}
}

func TestAppendMessage_AutoCreatesConversation(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	m, err := store.AppendMessage(ctx, "c1", userMsg("hello"))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m.Seq != 1 {
		t.Fatalf("seq = %d, want 1", m.Seq)
	}

	conv, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.UserID != "alice" || conv.Platform != domain.PlatformWeb {
		t.Fatalf("origin not recorded: %+v", conv)
	}
	if conv.Status != domain.StatusInProgress || conv.MessagesCount != 1 {
		t.Fatalf("header after first append: %+v", conv)
	}
}

func TestAppendMessage_FirstAppendRequiresOrigin(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))

	in := userMsg("hi")
	in.UserID = ""
	if _, err := store.AppendMessage(context.Background(), "c1", in); !errors.Is(err, domain.ErrEmptyUser) {
		t.Fatalf("err = %v, want ErrEmptyUser", err)
	}
}

func TestAppendMessage_BlankIDGetsGenerated(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))

	m, err := store.AppendMessage(context.Background(), "", userMsg("hi"))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m.ConversationID == "" {
		t.Fatal("expected generated conversation id")
	}
}

func TestAppendMessage_SequenceAndCountAdvanceTogether(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		in := domain.NewMessage{SenderType: domain.SenderBot, Content: "reply"}
		if i == 1 {
			in = userMsg("start")
		}
		m, err := store.AppendMessage(ctx, "c1", in)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if m.Seq != int64(i) {
			t.Fatalf("append %d: seq = %d", i, m.Seq)
		}
	}

	conv, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.MessagesCount != 3 {
		t.Fatalf("messages_count = %d, want 3", conv.MessagesCount)
	}
}

func TestAppendMessage_RejectsCompletedConversation(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	if _, err := store.AppendMessage(ctx, "c1", userMsg("hi")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "c1", 2.5); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	if _, err := store.AppendMessage(ctx, "c1", userMsg("late")); !errors.Is(err, ErrConversationCompleted) {
		t.Fatalf("err = %v, want ErrConversationCompleted", err)
	}
}

func TestAppendMessage_RejectsOriginMismatch(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	if _, err := store.AppendMessage(ctx, "c1", userMsg("hi")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	in := userMsg("from someone else")
	in.UserID = "mallory"
	if _, err := store.AppendMessage(ctx, "c1", in); !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("user mismatch: err = %v, want ErrOriginMismatch", err)
	}

	in = userMsg("other channel")
	in.Platform = domain.PlatformWhatsApp
	if _, err := store.AppendMessage(ctx, "c1", in); !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("platform mismatch: err = %v, want ErrOriginMismatch", err)
	}

	// Omitting the origin on later appends is fine.
	if _, err := store.AppendMessage(ctx, "c1", domain.NewMessage{SenderType: domain.SenderBot, Content: "ok"}); err != nil {
		t.Fatalf("originless append: %v", err)
	}
}

func TestAppendMessage_ClampsBackwardsTimestamps(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	t1 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	in := userMsg("first")
	in.Timestamp = t1
	if _, err := store.AppendMessage(ctx, "c1", in); err != nil {
		t.Fatalf("seed: %v", err)
	}

	late := domain.NewMessage{SenderType: domain.SenderBot, Content: "out of order", Timestamp: t1.Add(-time.Hour)}
	m, err := store.AppendMessage(ctx, "c1", late)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if !m.CreatedAt.Equal(t1) {
		t.Fatalf("timestamp = %v, want clamped to %v", m.CreatedAt, t1)
	}
}

func TestAppendMessage_ConcurrentAppendsStaySequential(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	if _, err := store.AppendMessage(ctx, "c1", userMsg("start")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, "c1", domain.NewMessage{SenderType: domain.SenderBot, Content: "x"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != n+1 {
		t.Fatalf("len = %d, want %d", len(msgs), n+1)
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("gap in sequence at index %d: seq=%d", i, m.Seq)
		}
	}
}

func TestMarkCompleted(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	if _, err := store.AppendMessage(ctx, "c1", userMsg("hi")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := store.MarkCompleted(ctx, "c1", 3.5); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	conv, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Status != domain.StatusCompleted || conv.DurationMinutes == nil || *conv.DurationMinutes != 3.5 {
		t.Fatalf("after complete: %+v", conv)
	}

	// Idempotent: second call is a no-op and the duration sticks.
	if err := store.MarkCompleted(ctx, "c1", 99); err != nil {
		t.Fatalf("second MarkCompleted: %v", err)
	}
	conv, _ = store.GetConversation(ctx, "c1")
	if *conv.DurationMinutes != 3.5 {
		t.Fatalf("duration overwritten: %v", *conv.DurationMinutes)
	}
}

func TestMarkCompleted_Errors(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	if err := store.MarkCompleted(ctx, "c1", -1); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("negative duration: err = %v", err)
	}
	if err := store.MarkCompleted(ctx, "missing", 1); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("missing conversation: err = %v", err)
	}
}

func TestListMessages(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))
	ctx := context.Background()

	if _, err := store.ListMessages(ctx, "nope"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("unknown id: err = %v", err)
	}

	if _, err := store.AppendMessage(ctx, "c1", userMsg("one")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.AppendMessage(ctx, "c1", domain.NewMessage{SenderType: domain.SenderBot, Content: "two"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	msgs, err := store.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	store := NewConversationStore(newServiceDB(t))

	if _, err := store.GetConversation(context.Background(), "nope"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestAppendMessageReceipted_CommitsReceiptWithMessage(t *testing.T) {
	db := newServiceDB(t)
	store := NewConversationStore(db)
	ctx := context.Background()

	msg, replayed, err := store.AppendMessageReceipted(ctx, "c-rcpt", userMsg("first"), "key-1", time.Hour)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if replayed {
		t.Fatalf("first append must not be a replay")
	}
	if msg.Seq != 1 {
		t.Fatalf("seq = %d, want 1", msg.Seq)
	}

	// The receipt is durable in the same commit as the message.
	rec, err := repo.GetReceipt(ctx, db, "c-rcpt", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("receipt missing after append: %v", err)
	}
	if rec.MessageID != msg.ID {
		t.Fatalf("receipt points at %s, want %s", rec.MessageID, msg.ID)
	}

	// A retry with the same key re-serves the same message, even with a
	// different body, and appends nothing.
	again, replayed, err := store.AppendMessageReceipted(ctx, "c-rcpt", userMsg("retry body"), "key-1", time.Hour)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !replayed {
		t.Fatalf("retry with the same key must replay")
	}
	if again.ID != msg.ID || again.Content != "first" {
		t.Fatalf("replay = %+v, want the original message", again)
	}
	conv, err := store.GetConversation(ctx, "c-rcpt")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.MessagesCount != 1 {
		t.Fatalf("messages_count = %d, want 1", conv.MessagesCount)
	}

	// A fresh key appends normally.
	second, replayed, err := store.AppendMessageReceipted(ctx, "c-rcpt", userMsg("second"), "key-2", time.Hour)
	if err != nil {
		t.Fatalf("second key: %v", err)
	}
	if replayed || second.Seq != 2 {
		t.Fatalf("second key: replayed=%v seq=%d, want fresh append seq 2", replayed, second.Seq)
	}
}

func TestAppendMessageReceipted_FailedAppendLeavesNoReceipt(t *testing.T) {
	db := newServiceDB(t)
	store := NewConversationStore(db)
	ctx := context.Background()

	if _, _, err := store.AppendMessageReceipted(ctx, "c-done", userMsg("hello"), "key-a", time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "c-done", 1); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, _, err := store.AppendMessageReceipted(ctx, "c-done", userMsg("late"), "key-b", time.Hour)
	if !errors.Is(err, ErrConversationCompleted) {
		t.Fatalf("err = %v, want ErrConversationCompleted", err)
	}
	// The rejected append must not have left a receipt behind.
	if _, err := repo.GetReceipt(ctx, db, "c-done", "key-b", time.Now().UTC()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("receipt lookup after rejected append: %v, want ErrNotFound", err)
	}
}

func TestAppendMessageReceipted_ExpiredKeyIsReused(t *testing.T) {
	db := newServiceDB(t)
	store := NewConversationStore(db)
	ctx := context.Background()

	first, _, err := store.AppendMessageReceipted(ctx, "c-exp", userMsg("old"), "key-x", -time.Hour)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The receipt expired immediately, so the same key appends a new message
	// and the surviving row is re-pointed at it.
	next, replayed, err := store.AppendMessageReceipted(ctx, "c-exp", userMsg("new"), "key-x", time.Hour)
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if replayed {
		t.Fatalf("expired receipt must not replay")
	}
	if next.ID == first.ID || next.Seq != 2 {
		t.Fatalf("reuse appended %+v, want a fresh message at seq 2", next)
	}
	rec, err := repo.GetReceipt(ctx, db, "c-exp", "key-x", time.Now().UTC())
	if err != nil {
		t.Fatalf("refreshed receipt: %v", err)
	}
	if rec.MessageID != next.ID {
		t.Fatalf("receipt points at %s, want %s", rec.MessageID, next.ID)
	}
}
