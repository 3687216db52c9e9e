package service

import (
	"context"
	"log/slog"
	"time"

	"dispatch/internal/repository"
)

// ExpirySweeper scans the ledger on a fixed interval for pending offers
// past their deadline and feeds timeout events back into the
// coordinator. It is what guarantees forward progress when no driver
// response ever arrives.
type ExpirySweeper struct {
	ledger      repository.OfferLedger
	coordinator *Coordinator
	interval    time.Duration
	logger      *slog.Logger
}

// NewExpirySweeper creates a new ExpirySweeper.
func NewExpirySweeper(ledger repository.OfferLedger, coordinator *Coordinator, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		ledger:      ledger,
		coordinator: coordinator,
		interval:    interval,
		logger:      logger,
	}
}

// Run sweeps until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Offers resolved concurrently between the read
// and the resolve are skipped inside HandleExpiry; that race is normal.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	expired, err := s.ledger.ExpiredPending(ctx, time.Now())
	if err != nil {
		s.logger.Error("expiry scan failed", "error", err)
		return
	}

	for _, offer := range expired {
		s.coordinator.HandleExpiry(ctx, offer)
	}
}
