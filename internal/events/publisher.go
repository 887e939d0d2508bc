package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "notify.deliveries"
	dialTimeout  = 5 * time.Second
)

// DeliveryEvent is the lifecycle record published for downstream consumers
// (activity feeds, reporting) whenever a ledger entry changes state.
type DeliveryEvent struct {
	DeliveryID     string         `json:"deliveryId"`
	NotificationID string         `json:"notificationId"`
	DealershipID   string         `json:"dealershipId"`
	UserID         string         `json:"userId"`
	Channel        domain.Channel `json:"channel"`
	Status         domain.Status  `json:"status"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

// Publisher emits delivery lifecycle events. Publishing is best-effort:
// failures are logged by callers and never affect the delivery itself.
type Publisher interface {
	Publish(ctx context.Context, event DeliveryEvent) error
	Close() error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event DeliveryEvent) error { return nil }
func (NoopPublisher) Close() error                                           { return nil }

// RabbitMQPublisher publishes delivery events to a fanout exchange.
type RabbitMQPublisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQPublisher(url string) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	p := &RabbitMQPublisher{url: url}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return fmt.Errorf("failed to connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event DeliveryEvent) error {
	if p == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    event.DeliveryID,
		Type:         strings.ToLower(event.Status.String()),
		Body:         payload,
	}

	if err := p.ch.PublishWithContext(ctx, exchangeName, "", false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish delivery event: %w", err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
