package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-plugin/internal/observability"
)

const realtimeKey = "chat.realtime"

type realtimeEvent struct {
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	UserIDs []int           `json:"user_ids,omitempty"`
}

// Sink receives relayed realtime events, normally the websocket hub.
type Sink interface {
	Publish(ctx context.Context, topic string, data any, userIDs []int)
}

// EventRelay carries realtime events over the exchange so that every
// server process, and workers without a hub, reach all connected clients.
type EventRelay struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger

	mu sync.Mutex
}

func NewEventRelay(amqpURL, exchange string, logger *slog.Logger) (*EventRelay, error) {
	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	return &EventRelay{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends the event to the exchange. Failures are logged; realtime
// delivery is best effort.
func (r *EventRelay) Publish(ctx context.Context, topic string, data any, userIDs []int) {
	raw, err := json.Marshal(data)
	if err != nil {
		r.logger.Error("realtime encode failed", "topic", topic, "error", err)
		return
	}
	body, err := json.Marshal(realtimeEvent{Topic: topic, Data: raw, UserIDs: userIDs})
	if err != nil {
		r.logger.Error("realtime encode failed", "topic", topic, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.ch.PublishWithContext(ctx, r.exchange, realtimeKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		r.logger.Error("realtime publish failed", "topic", topic, "error", err)
	}
}

// Consume binds a private queue and hands every event to sink in arrival
// order until ctx is done.
func (r *EventRelay) Consume(ctx context.Context, sink Sink) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("relay channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare relay queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, realtimeKey, r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind relay queue: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume relay queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("rabbitmq relay channel closed")
			}
			var ev realtimeEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				r.logger.Warn("drop undecodable realtime event", "error", err)
				continue
			}
			sink.Publish(ctx, ev.Topic, ev.Data, ev.UserIDs)
		}
	}
}

func (r *EventRelay) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
