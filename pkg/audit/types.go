package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	EventTypeSubscriptionCreate     EventType = "subscription.create"
	EventTypeSubscriptionUpdate     EventType = "subscription.update"
	EventTypeSubscriptionCancel     EventType = "subscription.cancel"
	EventTypeSubscriptionReactivate EventType = "subscription.reactivate"
	EventTypeSubscriptionSync       EventType = "subscription.sync"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeSchool       ResourceType = "school"
	ResourceTypeSubscription ResourceType = "subscription"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor; nil for processor-initiated changes
	UserID *int64 `json:"user_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID     *int64
	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}
