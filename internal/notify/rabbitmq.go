package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes events to a durable topic exchange, one routing
// key per event type. A channel or connection closed by the broker is
// reopened on the next publish.
type RabbitPublisher struct {
	mu       sync.Mutex
	url      string
	conn     *amqp.Connection
	ch       channel
	exchange string
	open     func() (channel, error)
}

// NewRabbitPublisher dials the broker and declares the exchange.
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	p := &RabbitPublisher{url: url, exchange: exchange}
	p.open = p.dial
	ch, err := p.open()
	if err != nil {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		return nil, err
	}
	p.ch = ch
	return p, nil
}

// dial opens a channel with the exchange declared, dialing again when the
// connection is gone.
func (p *RabbitPublisher) dial() (channel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return ch, nil
}

// reopen replaces the current channel. Callers hold mu.
func (p *RabbitPublisher) reopen() error {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.open == nil {
		return amqp.ErrClosed
	}
	ch, err := p.open()
	if err != nil {
		return err
	}
	p.ch = ch
	return nil
}

func (p *RabbitPublisher) Dispatch(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.BookingID + ":" + string(ev.Type) + ":" + ev.OccurredAt.Format(time.RFC3339Nano),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		if err := p.reopen(); err != nil {
			return fmt.Errorf("publish %s: %w", ev.Type, err)
		}
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, string(ev.Type), false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		if rerr := p.reopen(); rerr != nil {
			return fmt.Errorf("publish %s: %w", ev.Type, rerr)
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, string(ev.Type), false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
