package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/retaildesk/go-support-log/internal/domain"
)

func TestCreateReceipt_AndGet(t *testing.T) {
	db := newRepoDB(t, &domain.IngestReceipt{})
	ctx := context.Background()

	rec, err := CreateReceipt(ctx, db, "c1", "k1", "m1", 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	if rec.ID == "" || rec.ConversationID != "c1" || rec.Key != "k1" || rec.MessageID != "m1" {
		t.Fatalf("unexpected receipt: %+v", rec)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("expiry must be after creation: %+v", rec)
	}

	got, err := GetReceipt(ctx, db, "c1", "k1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if got.MessageID != "m1" {
		t.Fatalf("unexpected lookup result: %+v", got)
	}
}

func TestGetReceipt_MissingAndExpired(t *testing.T) {
	db := newRepoDB(t, &domain.IngestReceipt{})
	ctx := context.Background()

	if _, err := GetReceipt(ctx, db, "c1", "nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := GetReceipt(ctx, db, "", "k", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank conversation id must be ErrNotFound, got %v", err)
	}

	// An expired receipt is invisible to lookups.
	if _, err := CreateReceipt(ctx, db, "c1", "k1", "m1", 201, time.Millisecond); err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	if _, err := GetReceipt(ctx, db, "c1", "k1", time.Now().UTC().Add(time.Second)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired receipt must be ErrNotFound, got %v", err)
	}
}

func TestCreateReceipt_DuplicateKey(t *testing.T) {
	db := newRepoDB(t, &domain.IngestReceipt{})
	ctx := context.Background()

	if _, err := CreateReceipt(ctx, db, "c1", "k1", "m1", 201, time.Hour); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := CreateReceipt(ctx, db, "c1", "k1", "m2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Same key under another conversation is a distinct tuple.
	if _, err := CreateReceipt(ctx, db, "c2", "k1", "m3", 201, time.Hour); err != nil {
		t.Fatalf("same key, other conversation: %v", err)
	}
}

func TestSweepReceipts(t *testing.T) {
	db := newRepoDB(t, &domain.IngestReceipt{})
	ctx := context.Background()

	if _, err := CreateReceipt(ctx, db, "c1", "old", "m1", 201, time.Millisecond); err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if _, err := CreateReceipt(ctx, db, "c1", "fresh", "m2", 201, time.Hour); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}

	removed, err := SweepReceipts(ctx, db, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("SweepReceipts: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := GetReceipt(ctx, db, "c1", "fresh", time.Now().UTC()); err != nil {
		t.Fatalf("fresh receipt must survive the sweep: %v", err)
	}
}
