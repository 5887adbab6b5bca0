package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
	closed        bool
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return c.err
}

func (c *recordingChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitPublisherRoutesByType(t *testing.T) {
	ch := &recordingChannel{}
	p := &RabbitPublisher{ch: ch, exchange: "booking.events"}

	ev := Event{
		Type:       BookingConfirmed,
		BookingID:  "b1",
		BuilderID:  "builder-1",
		Recipients: []Recipient{RecipientClient, RecipientBuilder},
		Status:     "CONFIRMED",
		OccurredAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := p.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ch.exchange != "booking.events" || ch.key != "booking.confirmed" {
		t.Fatalf("published to %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent {
		t.Fatal("message is not persistent")
	}
	var got Event
	if err := json.Unmarshal(ch.msg.Body, &got); err != nil {
		t.Fatalf("body: %v", err)
	}
	if got.BookingID != "b1" || len(got.Recipients) != 2 {
		t.Fatalf("body = %+v", got)
	}
}

func TestRabbitPublisherWrapsErrors(t *testing.T) {
	boom := errors.New("channel closed")
	p := &RabbitPublisher{ch: &recordingChannel{err: boom}, exchange: "x"}
	if err := p.Dispatch(context.Background(), Event{Type: BookingCanceled}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRabbitPublisherReopensClosedChannel(t *testing.T) {
	stale := &recordingChannel{err: amqp.ErrClosed}
	fresh := &recordingChannel{}
	opened := 0
	p := &RabbitPublisher{ch: stale, exchange: "booking.events"}
	p.open = func() (channel, error) {
		opened++
		return fresh, nil
	}

	if err := p.Dispatch(context.Background(), Event{Type: BookingCanceled, BookingID: "b1"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if opened != 1 || !stale.closed {
		t.Fatalf("opened=%d stale closed=%v", opened, stale.closed)
	}
	if fresh.key != "booking.canceled" {
		t.Fatalf("fresh channel key = %q", fresh.key)
	}

	// The next publish goes straight to the reopened channel.
	if err := p.Dispatch(context.Background(), Event{Type: BookingConfirmed, BookingID: "b1"}); err != nil || opened != 1 {
		t.Fatalf("second Dispatch: %v, opened=%d", err, opened)
	}
}

func TestRabbitPublisherReportsFailedReopen(t *testing.T) {
	down := errors.New("connection refused")
	p := &RabbitPublisher{ch: &recordingChannel{err: amqp.ErrClosed}, exchange: "x"}
	p.open = func() (channel, error) { return nil, down }

	if err := p.Dispatch(context.Background(), Event{Type: BookingCanceled}); !errors.Is(err, down) {
		t.Fatalf("err = %v, want %v", err, down)
	}
	if p.ch != nil {
		t.Fatal("closed channel kept after a failed reopen")
	}

	// Once the broker is back the publisher recovers.
	fresh := &recordingChannel{}
	p.open = func() (channel, error) { return fresh, nil }
	if err := p.Dispatch(context.Background(), Event{Type: BookingCanceled}); err != nil {
		t.Fatalf("Dispatch after recovery: %v", err)
	}
	if fresh.key != "booking.canceled" {
		t.Fatalf("key = %q", fresh.key)
	}
}
