// Package amqpnotify dispatches notifications to a RabbitMQ queue as
// persistent JSON messages.
package amqpnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/notify"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("amqp publisher closed")

// Publisher implements notify.Dispatcher. It holds one connection and one
// channel and redials lazily after either is lost. Safe for concurrent use.
type Publisher struct {
	url    string
	queue  string
	logger *slog.Logger
	clock  clock.Clock

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// New returns a Publisher for queue on the broker at url. No connection is
// made until the first Dispatch or Ping.
func New(url, queue string, logger *slog.Logger, clk clock.Clock) *Publisher {
	return &Publisher{url: url, queue: queue, logger: logger, clock: clk}
}

func (p *Publisher) Dispatch(ctx context.Context, n notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    p.clock.Now(),
			Type:         string(n.Kind),
			Body:         body,
		},
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("publishing %s notification: %w", n.Kind, err)
	}
	return nil
}

// Ping connects if needed and reports whether the broker is reachable.
func (p *Publisher) Ping(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.channel()
	return err
}

// Close closes the channel and connection. Later calls to Dispatch fail
// with ErrClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.reset()
}

// channel returns an open channel, dialing and declaring the queue when
// the previous one is gone. p.mu must be held.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", p.queue, err)
	}

	p.conn, p.ch = conn, ch
	p.logger.Info("connected to broker", slog.String("queue", p.queue))
	return ch, nil
}

// reset drops the current channel and connection. p.mu must be held.
func (p *Publisher) reset() error {
	var errs []error
	if p.ch != nil && !p.ch.IsClosed() {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return errors.Join(errs...)
}
