package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/retaildesk/go-support-log/internal/config"
	"github.com/retaildesk/go-support-log/internal/domain"
)

// recordingStore captures calls so handlers can be driven without a broker.
type recordingStore struct {
	appendCalls []struct {
		id string
		in domain.NewMessage
	}
	completeCalls []struct {
		id  string
		min float64
	}
	appendErr   error
	completeErr error
}

func (s *recordingStore) AppendMessage(_ context.Context, conversationID string, in domain.NewMessage) (*domain.Message, error) {
	s.appendCalls = append(s.appendCalls, struct {
		id string
		in domain.NewMessage
	}{conversationID, in})
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	return &domain.Message{ID: "m1", ConversationID: conversationID}, nil
}

func (s *recordingStore) MarkCompleted(_ context.Context, id string, durationMinutes float64) error {
	s.completeCalls = append(s.completeCalls, struct {
		id  string
		min float64
	}{id, durationMinutes})
	return s.completeErr
}

func TestHandleMessage_DecodesAndAppends(t *testing.T) {
	st := &recordingStore{}
	sub := NewSubscriber(config.NATSConfig{}, st)

	ts := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	intent := "order_status"
	conf := 0.88
	payload := []byte(`{
		"conversation_id": "c-77",
		"user_id": "alice",
		"platform": "web",
		"sender_type": "user",
		"content": "where is my order?",
		"timestamp": "2026-04-01T09:30:00Z",
		"intent": "order_status",
		"confidence": 0.88
	}`)

	sub.handleMessage(context.Background(), payload)

	if len(st.appendCalls) != 1 {
		t.Fatalf("expected 1 append call, got %d", len(st.appendCalls))
	}
	call := st.appendCalls[0]
	if call.id != "c-77" {
		t.Fatalf("conversation id = %q", call.id)
	}
	in := call.in
	if in.UserID != "alice" || in.Platform != "web" || in.SenderType != "user" {
		t.Fatalf("origin fields wrong: %+v", in)
	}
	if in.Content != "where is my order?" {
		t.Fatalf("content = %q", in.Content)
	}
	if !in.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", in.Timestamp, ts)
	}
	if in.Intent == nil || *in.Intent != intent {
		t.Fatalf("intent = %v", in.Intent)
	}
	if in.Confidence == nil || *in.Confidence != conf {
		t.Fatalf("confidence = %v", in.Confidence)
	}
}

func TestHandleMessage_OmittedTimestampStaysZero(t *testing.T) {
	st := &recordingStore{}
	sub := NewSubscriber(config.NATSConfig{}, st)

	sub.handleMessage(context.Background(), []byte(`{"conversation_id":"c-1","sender_type":"bot","content":"hi"}`))

	if len(st.appendCalls) != 1 {
		t.Fatalf("expected 1 append call, got %d", len(st.appendCalls))
	}
	if !st.appendCalls[0].in.Timestamp.IsZero() {
		t.Fatalf("expected zero timestamp, got %v", st.appendCalls[0].in.Timestamp)
	}
}

func TestHandleMessage_DropsUndecodable(t *testing.T) {
	st := &recordingStore{}
	sub := NewSubscriber(config.NATSConfig{}, st)

	sub.handleMessage(context.Background(), []byte(`{not json`))

	if len(st.appendCalls) != 0 {
		t.Fatalf("undecodable event must not reach the store, got %d calls", len(st.appendCalls))
	}
}

func TestHandleMessage_StoreErrorIsSwallowed(t *testing.T) {
	st := &recordingStore{appendErr: errors.New("boom")}
	sub := NewSubscriber(config.NATSConfig{}, st)

	// Must not panic; the error is logged and the event dropped.
	sub.handleMessage(context.Background(), []byte(`{"conversation_id":"c-1","sender_type":"user","content":"x","user_id":"u","platform":"web"}`))

	if len(st.appendCalls) != 1 {
		t.Fatalf("expected the store to be invoked once, got %d", len(st.appendCalls))
	}
}

func TestHandleCompleted(t *testing.T) {
	st := &recordingStore{}
	sub := NewSubscriber(config.NATSConfig{}, st)

	sub.handleCompleted(context.Background(), []byte(`{"conversation_id":"c-9","duration_minutes":12.5}`))

	if len(st.completeCalls) != 1 {
		t.Fatalf("expected 1 complete call, got %d", len(st.completeCalls))
	}
	if got := st.completeCalls[0]; got.id != "c-9" || got.min != 12.5 {
		t.Fatalf("complete call = %+v", got)
	}
}

func TestHandleCompleted_DropsUndecodable(t *testing.T) {
	st := &recordingStore{}
	sub := NewSubscriber(config.NATSConfig{}, st)

	sub.handleCompleted(context.Background(), []byte(`"not an object"`))

	if len(st.completeCalls) != 0 {
		t.Fatalf("undecodable event must not reach the store, got %d calls", len(st.completeCalls))
	}
}

func TestClose_SafeWithoutStart(t *testing.T) {
	sub := NewSubscriber(config.NATSConfig{}, &recordingStore{})
	sub.Close() // must not panic with nil conn and no subscriptions
}
