package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/payments"
)

// Bookings is the read and sweep surface the worker needs.
type Bookings interface {
	Get(ctx context.Context, id string) (*model.Booking, error)
	SweepCompleted(ctx context.Context) (int, error)
	SweepAbandoned(ctx context.Context) (int, error)
}

// Worker handles booking tasks.
type Worker struct {
	bookings Bookings
	gateway  payments.Gateway
	log      *zap.Logger
}

func NewWorker(bookings Bookings, gateway payments.Gateway, log *zap.Logger) *Worker {
	return &Worker{bookings: bookings, gateway: gateway, log: log}
}

// Mux routes every task type to its handler.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRefund, w.handleRefund)
	mux.HandleFunc(TypeSweepCompleted, w.handleSweep(TypeSweepCompleted, w.bookings.SweepCompleted))
	mux.HandleFunc(TypeSweepAbandoned, w.handleSweep(TypeSweepAbandoned, w.bookings.SweepAbandoned))
	return mux
}

func (w *Worker) handleRefund(ctx context.Context, task *asynq.Task) error {
	var p RefundPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		w.log.Error("invalid refund payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	log := w.log.With(zap.String("booking_id", p.BookingID))

	if p.stray() {
		log = log.With(zap.String("session_id", p.SessionID), zap.String("payment_intent_id", p.PaymentIntentID))
		return w.refund(ctx, log, payments.RefundRequest{
			BookingID: p.BookingID,
			Ref:       model.PaymentRef{ProviderSessionID: p.SessionID, ProviderPaymentIntentID: p.PaymentIntentID},
			Key:       "refund-" + p.BookingID + "-" + p.captureKey(),
		})
	}

	b, err := w.bookings.Get(ctx, p.BookingID)
	if err != nil {
		if apperror.Is(err, apperror.NotFound) {
			log.Error("refund task for missing booking", zap.Bool("operator_alert", true))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if b.PaymentStatus != model.PaymentRefunded || b.PaymentRef == nil {
		log.Warn("refund task for booking not marked refunded",
			zap.String("status", string(b.Status)),
			zap.String("payment_status", string(b.PaymentStatus)),
		)
		return nil
	}

	return w.refund(ctx, log, payments.RefundRequest{BookingID: b.ID, Ref: *b.PaymentRef})
}

func (w *Worker) refund(ctx context.Context, log *zap.Logger, req payments.RefundRequest) error {
	refundID, err := w.gateway.Refund(ctx, req)
	if err != nil {
		if apperror.Is(err, apperror.Validation) {
			log.Error("refund rejected by payment provider", zap.Bool("operator_alert", true), zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		retried, okRetried := asynq.GetRetryCount(ctx)
		maxRetry, okMax := asynq.GetMaxRetry(ctx)
		if okRetried && okMax && retried >= maxRetry {
			log.Error("refund retries exhausted", zap.Bool("operator_alert", true), zap.Error(err))
		} else {
			log.Warn("refund attempt failed", zap.Int("retry", retried), zap.Error(err))
		}
		return err
	}

	log.Info("refund issued", zap.String("refund_id", refundID))
	return nil
}

func (w *Worker) handleSweep(name string, sweep func(context.Context) (int, error)) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		start := time.Now()
		n, err := sweep(ctx)
		if err != nil {
			w.log.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
			return err
		}
		w.log.Debug("sweep done", zap.String("sweep", name), zap.Int("moved", n), zap.Duration("took", time.Since(start)))
		return nil
	}
}

// Start runs the worker server, retrying while redis is unreachable.
func Start(srv *asynq.Server, mux *asynq.ServeMux, log *zap.Logger) error {
	const maxAttempts = 5
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = srv.Start(mux); err == nil {
			log.Info("task worker started")
			return nil
		}
		log.Warn("task worker failed to start", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt*2) * time.Second)
	}
	return fmt.Errorf("start task worker: %w", err)
}

// RegisterSweeps registers the periodic lifecycle sweeps on the cron schedule.
func RegisterSweeps(s *asynq.Scheduler, cron string) error {
	for _, typ := range []string{TypeSweepCompleted, TypeSweepAbandoned} {
		if _, err := s.Register(cron, asynq.NewTask(typ, nil), asynq.Queue(QueueDefault), asynq.MaxRetry(0)); err != nil {
			return fmt.Errorf("register %s: %w", typ, err)
		}
	}
	return nil
}
