package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes and releases the logger
	Close() error
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (NoOpLogger) Close() error                                     { return nil }

// NewEvent builds an event stamped with the current time and the request id from ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}
