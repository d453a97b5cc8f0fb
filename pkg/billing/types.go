package billing

import (
	"context"
	"strings"
	"time"

	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/schools"
	stripe "github.com/stripe/stripe-go/v82"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

const (
	// LocalSubscriptionPrefix marks subscriptions synthesized locally without the processor.
	LocalSubscriptionPrefix = "dummy_sub_"

	// LocalCustomerPrefix marks customers created on demand for local subscriptions.
	LocalCustomerPrefix = "dummy_cus_"

	// LocalSubscriptionPeriod is the billing period given to locally synthesized subscriptions.
	LocalSubscriptionPeriod = 30 * 24 * time.Hour

	// DefaultCurrency is used for customers created on demand.
	DefaultCurrency = "usd"

	// ProrationCreate is the proration behaviour used for price changes.
	ProrationCreate = "create_prorations"
)

// Subscription is the local mirror of a processor subscription
type Subscription struct {
	ID                 string             `json:"id"`
	CustomerID         string             `json:"customer"`
	Status             SubscriptionStatus `json:"status"`
	PlanID             *string            `json:"plan"`
	Quantity           int64              `json:"quantity"`
	StartDate          *time.Time         `json:"start_date"`
	CurrentPeriodStart *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CanceledAt         *time.Time         `json:"canceled_at"`
	EndedAt            *time.Time         `json:"ended_at"`
	TrialEnd           *time.Time         `json:"trial_end"`
	Livemode           bool               `json:"livemode"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
	CreatedAt          time.Time          `json:"created"`
	UpdatedAt          time.Time          `json:"modified"`
}

// IsLocal reports whether the subscription was synthesized without the processor
func (s *Subscription) IsLocal() bool {
	return IsLocalSubscriptionID(s.ID)
}

// IsLocalSubscriptionID reports whether id names a locally synthesized subscription
func IsLocalSubscriptionID(id string) bool {
	return strings.HasPrefix(id, LocalSubscriptionPrefix)
}

// Customer links a user to a billing identity
type Customer struct {
	ID                   string    `json:"id"`
	SubscriberID         *int64    `json:"subscriber"`
	Email                string    `json:"email"`
	Currency             string    `json:"currency"`
	Livemode             bool      `json:"livemode"`
	DefaultPaymentMethod *string   `json:"default_payment_method"`
	CreatedAt            time.Time `json:"created"`
}

// Plan is a mirrored processor plan (price)
type Plan struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product"`
	Nickname      string    `json:"nickname"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Interval      string    `json:"interval"`
	IntervalCount int64     `json:"interval_count"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created"`
}

// PaymentMethodType represents the type of payment method
type PaymentMethodType string

const (
	PaymentMethodTypeCard       PaymentMethodType = "card"
	PaymentMethodTypeSEPADebit  PaymentMethodType = "sepa_debit"
	PaymentMethodTypeUSBankAcct PaymentMethodType = "us_bank_account"
)

// PaymentMethod is a mirrored processor payment method
type PaymentMethod struct {
	ID           string            `json:"id"`
	CustomerID   *string           `json:"customer"`
	Type         PaymentMethodType `json:"type"`
	CardBrand    string            `json:"card_brand,omitempty"`
	CardLast4    string            `json:"card_last4,omitempty"`
	CardExpMonth int64             `json:"card_exp_month,omitempty"`
	CardExpYear  int64             `json:"card_exp_year,omitempty"`
	BillingEmail string            `json:"billing_email,omitempty"`
	CreatedAt    time.Time         `json:"created"`
}

// CreateSubscriptionRequest is the body of the create endpoint
type CreateSubscriptionRequest struct {
	SchoolID int64  `json:"schoolId"`
	Email    string `json:"email"`
}

// CreateSubscriptionResult is returned by the create endpoint
type CreateSubscriptionResult struct {
	Customer     *Customer     `json:"customer"`
	Subscription *Subscription `json:"subscription"`
}

// UpdateSubscriptionRequest changes the price of a school's subscription
type UpdateSubscriptionRequest struct {
	Slug    string `json:"slug"`
	PriceID string `json:"price_id"`
}

// SlugRequest identifies a school by slug
type SlugRequest struct {
	Slug string `json:"slug"`
}

// RetrieveRequest identifies a processor subscription
type RetrieveRequest struct {
	ID string `json:"id"`
}

// ReactivateMode selects how reactivation talks to the processor
type ReactivateMode string

const (
	// ReactivateSingle clears cancel_at_period_end with one call
	ReactivateSingle ReactivateMode = "single"
	// ReactivateLegacy sets cancel_at_period_end to true and then false
	ReactivateLegacy ReactivateMode = "legacy"
)

// Processor is the remote billing processor
type Processor interface {
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	ChangeSubscriptionPrice(ctx context.Context, id, itemID, priceID string) (*stripe.Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*stripe.Subscription, error)
}

// Mirror is the local persisted copy of processor objects
type Mirror interface {
	ListActivePlans(ctx context.Context) ([]*Plan, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)

	// UserCustomerID returns the user's current customer link, nil when detached
	UserCustomerID(ctx context.Context, userID int64) (*string, error)

	// CreateLocalSubscription attaches a synthesized subscription to the school unless one is
	// already linked, and detaches the user's customer link. Returns the linked subscription.
	CreateLocalSubscription(ctx context.Context, school *schools.School, user *auth.User, now time.Time) (*Subscription, error)

	// ApplyRemoteSubscription upserts the subscription and relinks the school atomically.
	// A zero schoolID only upserts.
	ApplyRemoteSubscription(ctx context.Context, schoolID int64, sub *Subscription) error

	UpsertCustomer(ctx context.Context, customer *Customer) error
	UpsertPaymentMethod(ctx context.Context, pm *PaymentMethod) error
	UpsertPlan(ctx context.Context, plan *Plan) error
}

// UserCache holds authenticated users between requests and must drop a user
// whose billing link changed
type UserCache interface {
	ForgetUser(userID int64) int
}

// Service defines the billing gateway operations
type Service interface {
	ListActivePlans(ctx context.Context) ([]*Plan, error)
	CreateSchoolSubscription(ctx context.Context, user *auth.User, req *CreateSubscriptionRequest) (*CreateSubscriptionResult, error)
	UpdateSubscription(ctx context.Context, user *auth.User, req *UpdateSubscriptionRequest) (*Subscription, error)
	CancelSubscription(ctx context.Context, user *auth.User, slug string) (*Subscription, error)
	ReactivateSubscription(ctx context.Context, user *auth.User, slug string) (*Subscription, error)
	RetrieveProcessorSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, user *auth.User, id string) (*Subscription, error)
	DefaultPaymentMethod(ctx context.Context, user *auth.User) (*PaymentMethod, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}
