package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

// SweepCompleted moves confirmed bookings whose slot has ended to
// COMPLETED. It returns the number of bookings moved.
func (s *BookingService) SweepCompleted(ctx context.Context) (int, error) {
	due, err := s.store.ListEndedConfirmed(ctx, s.now(), s.opts.SweepBatch)
	if err != nil {
		return 0, apperror.Wrap(err, "list ended bookings")
	}
	return s.sweep(ctx, due, InputComplete)
}

// SweepAbandoned moves bookings that never got a slot or a payment within
// the abandon window to ABANDONED.
func (s *BookingService) SweepAbandoned(ctx context.Context) (int, error) {
	stale, err := s.store.ListStaleInitiated(ctx, s.now().Add(-s.opts.AbandonAfter), s.opts.SweepBatch)
	if err != nil {
		return 0, apperror.Wrap(err, "list stale bookings")
	}
	return s.sweep(ctx, stale, InputAbandon)
}

func (s *BookingService) sweep(ctx context.Context, bookings []*model.Booking, kind InputKind) (int, error) {
	moved := 0
	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		_, err := s.runCommand(ctx, b.ID, Input{Kind: kind}, "sweep")
		switch {
		case err == nil:
			moved++
		case apperror.Is(err, apperror.Conflict):
			// Progressed since it was listed.
		default:
			s.log.Warn("sweep step failed",
				zap.String("booking_id", b.ID),
				zap.String("sweep", string(kind)),
				zap.Error(err),
			)
		}
	}
	if moved > 0 {
		s.log.Info("sweep finished", zap.String("sweep", string(kind)), zap.Int("moved", moved))
	}
	return moved, nil
}
