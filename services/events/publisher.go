// Package events publishes domain events to RabbitMQ. Publishing is best
// effort: failures are logged and returned so callers can ignore them
// without interrupting the main flow.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"tourdesk_go/services/metrics"
)

// Routing keys.
const (
	SyncCompleted      = "sync.completed"
	GroupGuideAssigned = "group.guide_assigned"
	TourCancelled      = "tour.cancelled"
	PaymentRecorded    = "payment.recorded"
)

// Envelope wraps every event body.
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

func newEnvelope(routingKey string, data interface{}) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       routingKey,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher sends one event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, data interface{}) error
	Close() error
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, routingKey string, _ interface{}) error {
	logrus.WithField("routing_key", routingKey).Debug("Event publishing disabled, dropping event")
	return nil
}

func (NoopPublisher) Close() error { return nil }

// AMQPPublisher keeps one connection and channel open and re-dials when the
// broker closes them. With an empty exchange each routing key is a durable
// queue on the default exchange.
type AMQPPublisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	// declared queues on the default exchange
	declared map[string]bool
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url is empty")
	}
	p := &AMQPPublisher{url: url, exchange: exchange, declared: map[string]bool{}}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	if p.exchange != "" {
		if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("rabbitmq: exchange declare failed: %w", err)
		}
	}
	p.conn, p.ch = conn, ch
	p.declared = map[string]bool{}
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, data interface{}) error {
	body, err := json.Marshal(newEnvelope(routingKey, data))
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		if err := p.connectLocked(); err != nil {
			metrics.EventsPublished.WithLabelValues(routingKey, "error").Inc()
			logrus.WithError(err).WithField("routing_key", routingKey).Warn("rabbitmq: reconnect failed")
			return err
		}
	}

	if p.exchange == "" && !p.declared[routingKey] {
		if _, err := p.ch.QueueDeclare(routingKey, true, false, false, false, nil); err != nil {
			metrics.EventsPublished.WithLabelValues(routingKey, "error").Inc()
			logrus.WithError(err).WithField("routing_key", routingKey).Warn("rabbitmq: queue declare failed")
			return err
		}
		p.declared[routingKey] = true
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, pub); err != nil {
		metrics.EventsPublished.WithLabelValues(routingKey, "error").Inc()
		logrus.WithError(err).WithField("routing_key", routingKey).Warn("rabbitmq: publish failed")
		return err
	}
	metrics.EventsPublished.WithLabelValues(routingKey, "ok").Inc()
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return errors.Join(errs...)
}
