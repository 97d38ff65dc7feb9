// Package ingest provides the optional NATS transport for the conversation
// log. Channel integrations that already publish to a broker can feed the
// store without going through HTTP: one subject carries message appends, a
// second carries completion events.
//
// The subscriber joins a queue group so horizontally scaled instances share
// the subject load instead of each consuming every event. It is wired only
// when NATS_URL is configured; the HTTP ingest endpoints work either way.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/retaildesk/go-support-log/internal/config"
	"github.com/retaildesk/go-support-log/internal/domain"
)

// Store is the slice of the conversation store the subscriber needs.
type Store interface {
	AppendMessage(ctx context.Context, conversationID string, in domain.NewMessage) (*domain.Message, error)
	MarkCompleted(ctx context.Context, id string, durationMinutes float64) error
}

// MessageEvent is the wire shape published on <prefix>.messages.
type MessageEvent struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id,omitempty"`
	Platform       string     `json:"platform,omitempty"`
	SenderType     string     `json:"sender_type"`
	Content        string     `json:"content"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	Intent         *string    `json:"intent,omitempty"`
	Confidence     *float64   `json:"confidence,omitempty"`
}

// CompletedEvent is the wire shape published on <prefix>.completed.
type CompletedEvent struct {
	ConversationID  string  `json:"conversation_id"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// Subscriber consumes conversation events from NATS and applies them to the
// store. Events that fail to decode or validate are logged and dropped; the
// publisher owns retry semantics for transient store failures.
type Subscriber struct {
	cfg   config.NATSConfig
	store Store

	nc   *nats.Conn
	subs []*nats.Subscription
}

// NewSubscriber constructs a Subscriber; call Start to connect.
func NewSubscriber(cfg config.NATSConfig, store Store) *Subscriber {
	return &Subscriber{cfg: cfg, store: store}
}

// Start connects to the broker and installs the queue subscriptions. The
// connection reconnects indefinitely; handler contexts derive from ctx so a
// server shutdown also stops in-flight event processing.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name("support-log-ingest"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("nats subscription error")
		}),
	}
	if s.cfg.Token != "" {
		opts = append(opts, nats.Token(s.cfg.Token))
	}

	nc, err := nats.Connect(s.cfg.URL, opts...)
	if err != nil {
		return err
	}
	s.nc = nc

	msgSub, err := nc.QueueSubscribe(s.cfg.SubjectPrefix+".messages", s.cfg.QueueGroup, func(m *nats.Msg) {
		s.handleMessage(ctx, m.Data)
	})
	if err != nil {
		nc.Close()
		return err
	}
	doneSub, err := nc.QueueSubscribe(s.cfg.SubjectPrefix+".completed", s.cfg.QueueGroup, func(m *nats.Msg) {
		s.handleCompleted(ctx, m.Data)
	})
	if err != nil {
		nc.Close()
		return err
	}
	s.subs = []*nats.Subscription{msgSub, doneSub}

	log.Info().
		Str("url", s.cfg.URL).
		Str("subject_prefix", s.cfg.SubjectPrefix).
		Str("queue_group", s.cfg.QueueGroup).
		Msg("nats ingest started")
	return nil
}

// Close drains the subscriptions so in-flight handlers finish, then closes
// the connection. Safe to call when Start never ran.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, data []byte) {
	var ev MessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("nats: dropping undecodable message event")
		return
	}
	in := domain.NewMessage{
		UserID:     ev.UserID,
		Platform:   ev.Platform,
		SenderType: ev.SenderType,
		Content:    ev.Content,
		Intent:     ev.Intent,
		Confidence: ev.Confidence,
	}
	if ev.Timestamp != nil {
		in.Timestamp = *ev.Timestamp
	}
	if _, err := s.store.AppendMessage(ctx, ev.ConversationID, in); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", ev.ConversationID).
			Msg("nats: append rejected")
	}
}

func (s *Subscriber) handleCompleted(ctx context.Context, data []byte) {
	var ev CompletedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("nats: dropping undecodable completed event")
		return
	}
	if err := s.store.MarkCompleted(ctx, ev.ConversationID, ev.DurationMinutes); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", ev.ConversationID).
			Msg("nats: completion rejected")
	}
}
