package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-plugin/internal/observability"
	"chat-plugin/internal/telemetry"
)

// Publisher sends audit envelopes to the topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher connects the audit publisher. Without a URL, or when the
// broker cannot be reached, audit envelopes are only logged.
func NewPublisher(amqpURL, exchange string, logger *slog.Logger) Publisher {
	if amqpURL == "" {
		return logOnly("empty amqp url", logger)
	}
	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		return logOnly(err.Error(), logger)
	}
	return &auditPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
}

func logOnly(reason string, logger *slog.Logger) Publisher {
	logger.Warn("audit events will only be logged", "reason", reason)
	return noopPublisher{reason: reason, logger: logger}
}

// dial opens a connection and channel and declares the durable topic
// exchange shared by audit events, jobs and realtime relay.
func dial(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

type auditPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger

	mu sync.Mutex
}

func (p *auditPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	msg, err := publishing(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		observability.IncAMQPPublishError()
		p.logger.ErrorContext(ctx, "audit publish failed", "routing_key", routingKey, "error", err)
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

func (p *auditPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// publishing encodes event as a persistent message. Audit envelopes also
// carry their request id and event type as message properties.
func publishing(event any) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode audit event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if env, ok := envelope(event); ok {
		msg.MessageId = env.RequestID
		msg.Type = env.EventType
	}
	return msg, nil
}

func envelope(event any) (telemetry.AuditEnvelope, bool) {
	switch env := event.(type) {
	case telemetry.AuditEnvelope:
		return env, true
	case *telemetry.AuditEnvelope:
		if env != nil {
			return *env, true
		}
	}
	return telemetry.AuditEnvelope{}, false
}

type noopPublisher struct {
	reason string
	logger *slog.Logger
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	attrs := []any{"routing_key", routingKey}
	if env, ok := envelope(event); ok {
		attrs = append(attrs, "action", env.Payload.Action, "actor_id", env.ActorID, "request_id", env.RequestID)
	}
	p.logger.InfoContext(ctx, "audit event", attrs...)
	return nil
}

func (noopPublisher) Close() error { return nil }

// Describe reports whether p reaches the broker, and if not, why.
func Describe(p Publisher) (mode, reason string) {
	switch pub := p.(type) {
	case *auditPublisher:
		return "amqp", ""
	case noopPublisher:
		return "log", pub.reason
	default:
		return "unknown", ""
	}
}
