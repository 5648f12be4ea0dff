// Package scheduler runs the periodic escrow housekeeping passes:
// auto-confirming stale shipped deliveries and releasing escrow once return
// windows elapse.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"vendora/settlement-service/internal/escrow"
)

type Scheduler struct {
	escrow           *escrow.Service
	interval         time.Duration
	autoConfirmAfter time.Duration
	releaseBatch     int
	logger           *slog.Logger
}

func New(esc *escrow.Service, interval, autoConfirmAfter time.Duration, releaseBatch int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		escrow:           esc,
		interval:         interval,
		autoConfirmAfter: autoConfirmAfter,
		releaseBatch:     releaseBatch,
		logger:           logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.autoConfirmAfter)
	confirmed, err := s.escrow.AutoConfirmDeliveries(ctx, cutoff)
	if err != nil {
		s.logger.Error("auto-confirm pass failed", "err", err)
	} else if confirmed > 0 {
		s.logger.Info("auto-confirmed deliveries", "count", confirmed)
	}

	released, err := s.escrow.AutoReleaseEligible(ctx, s.releaseBatch)
	if err != nil {
		s.logger.Error("auto-release pass failed", "err", err)
	} else if released > 0 {
		s.logger.Info("auto-released escrow", "count", released)
	}
}
