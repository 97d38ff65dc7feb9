// Package maintenance holds background housekeeping jobs. Currently the only
// job is the ingest-receipt sweeper: Idempotency-Key receipts expire after a
// TTL and a cron schedule purges the expired rows so the table stays bounded.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/retaildesk/go-support-log/internal/repo"
)

// ReceiptSweeper deletes expired ingest receipts on a cron schedule.
type ReceiptSweeper struct {
	db   *gorm.DB
	spec string
	cron *cron.Cron
}

// NewReceiptSweeper constructs a sweeper with a cron spec such as "@hourly"
// or "15 3 * * *".
func NewReceiptSweeper(db *gorm.DB, spec string) *ReceiptSweeper {
	return &ReceiptSweeper{db: db, spec: spec}
}

// Start validates the schedule and begins running sweeps in the background.
func (s *ReceiptSweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.SweepNow(ctx); err != nil {
			log.Error().Err(err).Msg("receipt sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	log.Info().Str("schedule", s.spec).Msg("receipt sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *ReceiptSweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// SweepNow runs one sweep immediately and returns the number of rows removed.
func (s *ReceiptSweeper) SweepNow(ctx context.Context) (int64, error) {
	n, err := repo.SweepReceipts(ctx, s.db, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("removed", n).Msg("expired ingest receipts swept")
	}
	return n, nil
}
