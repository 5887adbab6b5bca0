// Package tasks runs deferred work on asynq: refund compensation and the
// periodic lifecycle sweeps.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

const (
	TypeRefund         = "booking:refund"
	TypeSweepCompleted = "booking:sweep-completed"
	TypeSweepAbandoned = "booking:sweep-abandoned"

	QueueCritical = "critical"
	QueueDefault  = "default"

	refundMaxRetry = 10
	refundTimeout  = 30 * time.Second
)

// RefundPayload is the body of a refund task. SessionID and
// PaymentIntentID are set only for a stray capture, a payment taken through
// a checkout the booking no longer tracks.
type RefundPayload struct {
	BookingID       string `json:"bookingId"`
	SessionID       string `json:"sessionId,omitempty"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
}

func (p RefundPayload) stray() bool {
	return p.SessionID != "" || p.PaymentIntentID != ""
}

// captureKey names a stray capture by its intent, or its checkout session
// while the intent is unknown.
func (p RefundPayload) captureKey() string {
	if p.PaymentIntentID != "" {
		return p.PaymentIntentID
	}
	return p.SessionID
}

// NewRefundTask builds the refund task for a booking. The task id makes a
// second enqueue for the same booking a no-op while the first is retained.
func NewRefundTask(bookingID string) (*asynq.Task, []asynq.Option, error) {
	return newRefundTask(RefundPayload{BookingID: bookingID}, "refund:"+bookingID)
}

// NewStrayRefundTask builds the refund task for a stray capture on a
// booking, deduplicated per capture.
func NewStrayRefundTask(bookingID string, ref model.PaymentRef) (*asynq.Task, []asynq.Option, error) {
	p := RefundPayload{
		BookingID:       bookingID,
		SessionID:       ref.ProviderSessionID,
		PaymentIntentID: ref.ProviderPaymentIntentID,
	}
	if !p.stray() {
		return nil, nil, fmt.Errorf("stray refund for %s has no payment reference", bookingID)
	}
	return newRefundTask(p, "refund:"+bookingID+":"+p.captureKey())
}

func newRefundTask(p RefundPayload, id string) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeRefund, b)
	opts := []asynq.Option{
		asynq.TaskID(id),
		asynq.MaxRetry(refundMaxRetry),
		asynq.Queue(QueueCritical),
		asynq.Timeout(refundTimeout),
		asynq.Retention(7 * 24 * time.Hour),
	}
	return task, opts, nil
}

// Enqueuer schedules refund tasks.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueRefund schedules refund compensation for a booking. An already
// queued refund for the booking counts as success.
func (e *Enqueuer) EnqueueRefund(ctx context.Context, bookingID string) error {
	task, opts, err := NewRefundTask(bookingID)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task, opts, bookingID)
}

// EnqueueStrayRefund schedules the refund of a capture that is not the
// booking's recorded payment.
func (e *Enqueuer) EnqueueStrayRefund(ctx context.Context, bookingID string, ref model.PaymentRef) error {
	task, opts, err := NewStrayRefundTask(bookingID, ref)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task, opts, bookingID)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option, bookingID string) error {
	if _, err := e.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue refund for %s: %w", bookingID, err)
	}
	return nil
}
