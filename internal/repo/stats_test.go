package repo

import (
	"context"
	"testing"
	"time"

	"github.com/retaildesk/go-support-log/internal/domain"
)

func TestConversationsStats_Empty(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{})

	count, maxTS, err := ConversationsStats(context.Background(), db)
	if err != nil {
		t.Fatalf("ConversationsStats: %v", err)
	}
	if count != 0 || maxTS != nil {
		t.Fatalf("empty log: count=%d maxTS=%v", count, maxTS)
	}
}

func TestConversationsStats_CountsAndLatest(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := CreateConversation(ctx, db, id, "u1", domain.PlatformWeb, time.Now()); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	count, maxTS, err := ConversationsStats(ctx, db)
	if err != nil {
		t.Fatalf("ConversationsStats: %v", err)
	}
	if count != 2 || maxTS == nil {
		t.Fatalf("count=%d maxTS=%v", count, maxTS)
	}

	// Any write bumps the change detector.
	before := *maxTS
	time.Sleep(5 * time.Millisecond)
	if err := SetMessagesCount(ctx, db, "a", 1); err != nil {
		t.Fatalf("SetMessagesCount: %v", err)
	}
	_, after, err := ConversationsStats(ctx, db)
	if err != nil {
		t.Fatalf("ConversationsStats: %v", err)
	}
	if after == nil || !after.After(before) {
		t.Fatalf("updated_at did not advance: before=%v after=%v", before, after)
	}
}

func TestMessagesStats(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	if _, err := CreateConversation(ctx, db, "c1", "u1", domain.PlatformWeb, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	count, maxTS, err := MessagesStats(ctx, db, "c1")
	if err != nil || count != 0 || maxTS != nil {
		t.Fatalf("empty conversation: count=%d maxTS=%v err=%v", count, maxTS, err)
	}

	t1 := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	for i, ts := range []time.Time{t1, t2} {
		in := domain.NewMessage{SenderType: domain.SenderUser, Content: "m", Timestamp: ts}
		if _, err := CreateMessage(db, "c1", int64(i+1), in); err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
	}

	count, maxTS, err = MessagesStats(ctx, db, "c1")
	if err != nil {
		t.Fatalf("MessagesStats: %v", err)
	}
	if count != 2 || maxTS == nil || !maxTS.Equal(t2) {
		t.Fatalf("count=%d maxTS=%v", count, maxTS)
	}
}
