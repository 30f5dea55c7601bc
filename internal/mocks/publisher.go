package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"chat-plugin/internal/telemetry"
)

// AuditPublisherMock stands in for the broker behind the audit emitter and
// keeps every envelope it was handed.
type AuditPublisherMock struct {
	mock.Mock

	mu        sync.Mutex
	envelopes []telemetry.AuditEnvelope
}

func (m *AuditPublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	if env, ok := event.(telemetry.AuditEnvelope); ok {
		m.mu.Lock()
		m.envelopes = append(m.envelopes, env)
		m.mu.Unlock()
	}
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *AuditPublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ExpectAudit expects one envelope on routingKey and answers with err.
func (m *AuditPublisherMock) ExpectAudit(routingKey string, err error) *mock.Call {
	return m.On("Publish", mock.Anything, routingKey, mock.AnythingOfType("telemetry.AuditEnvelope")).Return(err).Once()
}

// Envelopes returns the audit envelopes published so far.
func (m *AuditPublisherMock) Envelopes() []telemetry.AuditEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telemetry.AuditEnvelope(nil), m.envelopes...)
}
