package telemetry

import (
	"context"
	"log/slog"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Moderation actions recorded in the audit stream.
const (
	AuditChannelStatus   = "channel_status_changed"
	AuditChannelDeleted  = "channel_deleted"
	AuditArchiveStarted  = "channel_archive_started"
	AuditArchiveFinished = "channel_archive_finished"
	AuditArchiveFailed   = "channel_archive_failed"
	AuditUserSilenced    = "user_silenced"
	AuditReviewPerformed = "reviewable_performed"
)

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *slog.Logger
}

type AuditEnvelope struct {
	SchemaVersion int        `json:"schema_version"`
	EventType     string     `json:"event_type"`
	OccurredAt    string     `json:"occurred_at"`
	Service       string     `json:"service"`
	Environment   string     `json:"environment"`
	RequestID     string     `json:"request_id"`
	TraceID       string     `json:"trace_id,omitempty"`
	ActorID       int        `json:"actor_id"`
	Payload       AuditEvent `json:"payload"`
}

// AuditEvent is one moderation action.
type AuditEvent struct {
	Action    string `json:"action"`
	ActorID   int    `json:"-"`
	ChannelID int    `json:"chat_channel_id,omitempty"`
	TargetID  int    `json:"target_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *slog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes ev. Publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, ev AuditEvent) {
	if e == nil || e.publisher == nil {
		return
	}

	requestID := RequestIDFromContext(ctx)
	e.logger.Info("audit emit", "action", ev.Action, "actor_id", ev.ActorID, "request_id", requestID, "detail", ev.Detail)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "chat_audit",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		TraceID:       TraceIDFromContext(ctx),
		ActorID:       ev.ActorID,
		Payload:       ev,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Error("audit publish failed", "action", ev.Action, "error", err)
	}
}

type requestIDKey struct{}

// WithRequestID stores the request id on ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
