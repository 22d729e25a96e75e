package services

import (
	"context"
	"log/slog"
	"time"
)

// CartExpiryService periodically expires carts stuck in processing, which
// happens when a provider never reports the outcome of a payment
type CartExpiryService struct {
	ledger   LedgerServiceInterface
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewCartExpiryService creates the expiry loop. Carts older than ttl are expired every interval.
func NewCartExpiryService(ledger LedgerServiceInterface, ttl, interval time.Duration, logger *slog.Logger) *CartExpiryService {
	return &CartExpiryService{
		ledger:   ledger,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// RunOnce expires the stale carts once
func (s *CartExpiryService) RunOnce(ctx context.Context) (int, error) {
	return s.ledger.ExpireStaleCarts(ctx, s.ttl)
}

// Run expires stale carts every interval until ctx is done. Failures are
// logged and retried on the next tick.
func (s *CartExpiryService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("cart expiry started", "ttl", s.ttl, "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("cart expiry failed", "error", err)
			}
		}
	}
}
