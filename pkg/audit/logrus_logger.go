package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log entries
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger creates an audit logger on top of a logrus logger
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log writes the event at info level, or warn when it did not succeed
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"audit":         true,
		"event_type":    event.EventType,
		"status":        event.Status,
		"resource_type": event.ResourceType,
		"resource_id":   event.ResourceID,
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close is a no-op
func (l *LogrusLogger) Close() error {
	return nil
}
