package schools

import (
	"context"
	"errors"
	"time"
)

// ErrSchoolNotFound is returned when no school matches the lookup
var ErrSchoolNotFound = errors.New("school not found")

// School is the billable tenant
type School struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	ManagerID      *int64    `json:"manager"`
	SubscriptionID *string   `json:"subscription"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsManagedBy reports whether userID manages the school
func (s *School) IsManagedBy(userID int64) bool {
	return s.ManagerID != nil && *s.ManagerID == userID
}

// HasSubscription reports whether a subscription is linked
func (s *School) HasSubscription() bool {
	return s.SubscriptionID != nil && *s.SubscriptionID != ""
}

// Service defines the school lookups used by billing
type Service interface {
	GetSchool(ctx context.Context, id int64) (*School, error)
	GetSchoolBySlug(ctx context.Context, slug string) (*School, error)
	GetSchoolBySubscription(ctx context.Context, subscriptionID string) (*School, error)
	ListSubscribedSchools(ctx context.Context) ([]*School, error)
}
