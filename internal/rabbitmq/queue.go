package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-plugin/internal/jobs"
	"chat-plugin/internal/observability"
)

// JobQueue carries jobs through RabbitMQ.
//
// Due jobs are published to the exchange under the queue name and land in
// the durable work queue. Delayed jobs wait in one of several tier queues,
// each with a fixed TTL, and the broker dead-letters them back onto the
// exchange when it expires. Every message in a tier expires after the same
// time, so a short delay is never stuck behind a longer one. A job that
// reaches the work queue before it is due goes round again. Jobs that
// exhaust their attempts are parked on <queue>.dead.
type JobQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	logger   *slog.Logger

	mu sync.Mutex
}

// NewJobQueue connects and declares the work, wait and dead queues.
func NewJobQueue(amqpURL, exchange, queue string, logger *slog.Logger) (*JobQueue, error) {
	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	q := &JobQueue{conn: conn, ch: ch, exchange: exchange, queue: queue, logger: logger}
	if err := q.declare(); err != nil {
		_ = q.Close()
		return nil, err
	}
	logger.Info("rabbitmq job queue ready", "exchange", exchange, "queue", queue)
	return q, nil
}

// waitTiers are the TTLs of the wait queues, shortest first.
var waitTiers = []time.Duration{
	time.Second,
	5 * time.Second,
	15 * time.Second,
	time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// waitTier picks the longest tier that does not overshoot delay. Delays
// shorter than the first tier use it.
func waitTier(delay time.Duration) time.Duration {
	tier := waitTiers[0]
	for _, t := range waitTiers[1:] {
		if t > delay {
			break
		}
		tier = t
	}
	return tier
}

func (q *JobQueue) waitQueue(tier time.Duration) string {
	return q.queue + ".wait." + strconv.FormatInt(tier.Milliseconds(), 10)
}

func (q *JobQueue) deadQueue() string { return q.queue + ".dead" }

func (q *JobQueue) declare() error {
	if _, err := q.ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", q.queue, err)
	}
	if err := q.ch.QueueBind(q.queue, q.queue, q.exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", q.queue, err)
	}

	for _, tier := range waitTiers {
		name := q.waitQueue(tier)
		if _, err := q.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-message-ttl":             tier.Milliseconds(),
			"x-dead-letter-exchange":    q.exchange,
			"x-dead-letter-routing-key": q.queue,
		}); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}
	}

	if _, err := q.ch.QueueDeclare(q.deadQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", q.deadQueue(), err)
	}
	if err := q.ch.QueueBind(q.deadQueue(), q.deadQueue(), q.exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", q.deadQueue(), err)
	}
	return nil
}

// Enqueue publishes job, through the wait queue when it is not yet due.
func (q *JobQueue) Enqueue(ctx context.Context, job jobs.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         string(job.Kind),
		Body:         body,
	}

	exchange, key := q.exchange, q.queue
	if delay := job.Delay(time.Now()); delay > 0 {
		// The default exchange routes straight to the tier queue.
		exchange, key = "", q.waitQueue(waitTier(delay))
	}
	return q.publish(ctx, exchange, key, msg)
}

// DeadLetter parks job on the dead queue with the failure attached.
func (q *JobQueue) DeadLetter(ctx context.Context, job jobs.Job, cause error) {
	body, err := json.Marshal(job)
	if err != nil {
		q.logger.Error("encode dead job", "job_id", job.ID, "error", err)
		return
	}
	err = q.publish(ctx, q.exchange, q.deadQueue(), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         string(job.Kind),
		Headers:      amqp.Table{"x-error": cause.Error()},
		Body:         body,
	})
	if err != nil {
		q.logger.Error("dead-letter publish failed", "job_id", job.ID, "kind", job.Kind, "error", err)
	}
}

// amqp channels are not safe for concurrent publishing.
func (q *JobQueue) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		observability.IncAMQPPublishError()
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Consume runs deliveries through exec with at most workers in flight and
// blocks until ctx is done or the broker closes the channel. A delivery is
// acked once exec returns nil; undecodable bodies are dropped.
func (q *JobQueue) Consume(ctx context.Context, workers int, exec func(ctx context.Context, job jobs.Job) error) error {
	if workers < 1 {
		workers = 1
	}
	// A separate channel keeps consumer flow control off the publish path.
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("consumer channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.queue, err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	slots := make(chan struct{}, workers)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("rabbitmq delivery channel closed")
			}
			slots <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-slots }()
				q.handle(ctx, d, exec)
			}(d)
		}
	}
}

func (q *JobQueue) handle(ctx context.Context, d amqp.Delivery, exec func(ctx context.Context, job jobs.Job) error) {
	var job jobs.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.logger.Error("drop undecodable job", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	if job.Delay(time.Now()) > 0 {
		if err := q.Enqueue(ctx, job); err != nil {
			q.logger.Error("reschedule early job", "job_id", job.ID, "kind", job.Kind, "error", err)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}
	if err := exec(ctx, job); err != nil {
		q.logger.Error("job requeued by broker", "job_id", job.ID, "kind", job.Kind, "error", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (q *JobQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
