package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/platinummonkey/schoolbilling/pkg/audit"
	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
	"github.com/platinummonkey/schoolbilling/pkg/schools"
)

const msgPermissionDenied = "You do not have permission to perform this action."

// GatewayConfig holds processor-facing options of the gateway
type GatewayConfig struct {
	ReactivateMode ReactivateMode
	WebhookSecret  string
}

// Gateway implements Service on top of the school store, the mirror and the processor
type Gateway struct {
	schools   schools.Service
	mirror    Mirror
	processor Processor
	audit     audit.Logger
	logger    *logrus.Logger
	metrics   *observability.Metrics
	config    GatewayConfig
	users     UserCache
	now       func() time.Time
}

// NewGateway creates a new Gateway. A nil audit logger discards events.
func NewGateway(
	schoolService schools.Service,
	mirror Mirror,
	processor Processor,
	auditLogger audit.Logger,
	logger *logrus.Logger,
	metrics *observability.Metrics,
	config GatewayConfig,
) *Gateway {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.ReactivateMode == "" {
		config.ReactivateMode = ReactivateSingle
	}
	return &Gateway{
		schools:   schoolService,
		mirror:    mirror,
		processor: processor,
		audit:     auditLogger,
		logger:    logger,
		metrics:   metrics,
		config:    config,
		now:       time.Now,
	}
}

// SetUserCache registers the cache that must forget a user once their customer is detached
func (g *Gateway) SetUserCache(users UserCache) {
	g.users = users
}

// ListActivePlans returns every active plan
func (g *Gateway) ListActivePlans(ctx context.Context) ([]*Plan, error) {
	return g.mirror.ListActivePlans(ctx)
}

// CreateSchoolSubscription attaches a locally synthesized subscription to the caller's school.
// Every failure is a validation failure so the create endpoint keeps a single error shape.
func (g *Gateway) CreateSchoolSubscription(ctx context.Context, user *auth.User, req *CreateSubscriptionRequest) (*CreateSubscriptionResult, error) {
	if user == nil {
		return nil, Invalid("authentication required")
	}

	school, err := g.schools.GetSchool(ctx, req.SchoolID)
	if errors.Is(err, schools.ErrSchoolNotFound) {
		return nil, Invalid("School matching query does not exist.")
	}
	if err != nil {
		return nil, &Error{Kind: KindValidationFailed, Message: err.Error(), Err: err}
	}

	if req.Email != user.Email {
		err := Invalid("email does not match the authenticated user")
		g.record(ctx, audit.EventTypeSubscriptionCreate, &user.ID, school, "", err)
		return nil, err
	}
	if !school.IsManagedBy(user.ID) {
		err := Invalid("user does not manage this school")
		g.record(ctx, audit.EventTypeSubscriptionCreate, &user.ID, school, "", err)
		return nil, err
	}

	sub, err := g.mirror.CreateLocalSubscription(ctx, school, user, g.now().UTC())
	if err != nil {
		if KindOf(err) == KindInternal {
			err = &Error{Kind: KindValidationFailed, Message: err.Error(), Err: err}
		}
		g.record(ctx, audit.EventTypeSubscriptionCreate, &user.ID, school, "", err)
		return nil, err
	}

	if g.users != nil {
		g.users.ForgetUser(user.ID)
	}

	g.record(ctx, audit.EventTypeSubscriptionCreate, &user.ID, school, sub.ID, nil)
	return &CreateSubscriptionResult{Subscription: sub}, nil
}

// UpdateSubscription moves the school's subscription to a new price
func (g *Gateway) UpdateSubscription(ctx context.Context, user *auth.User, req *UpdateSubscriptionRequest) (*Subscription, error) {
	school, subID, err := g.linkedSubscription(ctx, audit.EventTypeSubscriptionUpdate, user, req.Slug)
	if err != nil {
		return nil, err
	}
	if req.PriceID == "" {
		return nil, Invalid("price_id is required")
	}

	sub, err := g.updatePrice(ctx, subID, req.PriceID)
	if err != nil {
		g.record(ctx, audit.EventTypeSubscriptionUpdate, &user.ID, school, subID, err)
		return nil, err
	}

	return g.apply(ctx, audit.EventTypeSubscriptionUpdate, user, school, sub)
}

func (g *Gateway) updatePrice(ctx context.Context, subID, priceID string) (*stripe.Subscription, error) {
	remote, err := g.processor.RetrieveSubscription(ctx, subID)
	if err != nil {
		return nil, Upstream(err)
	}
	if remote.Items == nil || len(remote.Items.Data) == 0 {
		return nil, Invalid("subscription %s has no items", subID)
	}

	remote, err = g.processor.ChangeSubscriptionPrice(ctx, subID, remote.Items.Data[0].ID, priceID)
	if err != nil {
		return nil, Upstream(err)
	}
	return remote, nil
}

// CancelSubscription schedules cancellation at the end of the current period
func (g *Gateway) CancelSubscription(ctx context.Context, user *auth.User, slug string) (*Subscription, error) {
	school, subID, err := g.linkedSubscription(ctx, audit.EventTypeSubscriptionCancel, user, slug)
	if err != nil {
		return nil, err
	}

	remote, err := g.processor.SetCancelAtPeriodEnd(ctx, subID, true)
	if err != nil {
		err = Upstream(err)
		g.record(ctx, audit.EventTypeSubscriptionCancel, &user.ID, school, subID, err)
		return nil, err
	}

	return g.apply(ctx, audit.EventTypeSubscriptionCancel, user, school, remote)
}

// ReactivateSubscription clears a scheduled cancellation
func (g *Gateway) ReactivateSubscription(ctx context.Context, user *auth.User, slug string) (*Subscription, error) {
	school, subID, err := g.linkedSubscription(ctx, audit.EventTypeSubscriptionReactivate, user, slug)
	if err != nil {
		return nil, err
	}

	if g.config.ReactivateMode == ReactivateLegacy {
		if _, err := g.processor.SetCancelAtPeriodEnd(ctx, subID, true); err != nil {
			err = Upstream(err)
			g.record(ctx, audit.EventTypeSubscriptionReactivate, &user.ID, school, subID, err)
			return nil, err
		}
	}

	remote, err := g.processor.SetCancelAtPeriodEnd(ctx, subID, false)
	if err != nil {
		err = Upstream(err)
		g.record(ctx, audit.EventTypeSubscriptionReactivate, &user.ID, school, subID, err)
		return nil, err
	}

	return g.apply(ctx, audit.EventTypeSubscriptionReactivate, user, school, remote)
}

// RetrieveProcessorSubscription returns the processor's own view of a subscription
func (g *Gateway) RetrieveProcessorSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	sub, err := g.processor.RetrieveSubscription(ctx, id)
	if err != nil {
		return nil, Upstream(err)
	}
	return sub, nil
}

// GetSubscription returns a mirrored subscription linked to a school the user manages
func (g *Gateway) GetSubscription(ctx context.Context, user *auth.User, id string) (*Subscription, error) {
	if user == nil {
		return nil, Denied(msgPermissionDenied)
	}

	sub, err := g.mirror.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	school, err := g.schools.GetSchoolBySubscription(ctx, id)
	if errors.Is(err, schools.ErrSchoolNotFound) {
		return nil, Denied(msgPermissionDenied)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get school: %w", err)
	}
	if !school.IsManagedBy(user.ID) {
		return nil, Denied(msgPermissionDenied)
	}
	return sub, nil
}

// DefaultPaymentMethod returns the mirrored default payment method of the user's customer.
// The customer link is read from the store, never from the authenticated user, which may
// predate a detach. Every failure, including missing records, is reported as a validation
// failure.
func (g *Gateway) DefaultPaymentMethod(ctx context.Context, user *auth.User) (*PaymentMethod, error) {
	if user == nil {
		return nil, Invalid("user has no billing customer")
	}

	customerID, err := g.mirror.UserCustomerID(ctx, user.ID)
	if err != nil {
		return nil, asInvalid(err)
	}
	if customerID == nil || *customerID == "" {
		return nil, Invalid("user has no billing customer")
	}

	customer, err := g.mirror.GetCustomer(ctx, *customerID)
	if err != nil {
		return nil, asInvalid(err)
	}
	if customer.DefaultPaymentMethod == nil || *customer.DefaultPaymentMethod == "" {
		return nil, Invalid("customer %s has no default payment method", customer.ID)
	}

	pm, err := g.mirror.GetPaymentMethod(ctx, *customer.DefaultPaymentMethod)
	if err != nil {
		return nil, asInvalid(err)
	}
	return pm, nil
}

// linkedSubscription resolves the school and its subscription id. An unknown slug is
// reported first, then a caller who does not manage the school, both before any
// processor call.
func (g *Gateway) linkedSubscription(ctx context.Context, eventType audit.EventType, user *auth.User, slug string) (*schools.School, string, error) {
	if user == nil {
		return nil, "", Denied(msgPermissionDenied)
	}

	school, err := g.schools.GetSchoolBySlug(ctx, slug)
	if errors.Is(err, schools.ErrSchoolNotFound) {
		return nil, "", NotFound("No School matches the given query.")
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get school: %w", err)
	}

	if !school.IsManagedBy(user.ID) {
		err := Denied(msgPermissionDenied)
		g.record(ctx, eventType, &user.ID, school, "", err)
		return nil, "", err
	}

	if !school.HasSubscription() {
		return nil, "", Invalid("school %s has no subscription", school.Slug)
	}
	subID := *school.SubscriptionID
	if IsLocalSubscriptionID(subID) {
		return nil, "", Invalid("subscription %s is not managed by the processor", subID)
	}
	return school, subID, nil
}

// apply mirrors the processor result and relinks the school
func (g *Gateway) apply(ctx context.Context, eventType audit.EventType, user *auth.User, school *schools.School, remote *stripe.Subscription) (*Subscription, error) {
	sub := SubscriptionFromStripe(remote)
	if err := g.mirror.ApplyRemoteSubscription(ctx, school.ID, sub); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("subscription_id", sub.ID).
			Error("processor change succeeded but mirror apply failed")
		err = asInvalid(err)
		g.record(ctx, eventType, &user.ID, school, sub.ID, err)
		return nil, err
	}

	g.record(ctx, eventType, &user.ID, school, sub.ID, nil)
	return sub, nil
}

// record writes an audit event; failures are logged and counted only
func (g *Gateway) record(ctx context.Context, eventType audit.EventType, userID *int64, school *schools.School, subID string, cause error) {
	status := audit.EventStatusSuccess
	switch {
	case cause == nil:
	case KindOf(cause) == KindAuthorizationDenied:
		status = audit.EventStatusDenied
	default:
		status = audit.EventStatusFailure
	}

	event := audit.NewEvent(ctx, eventType, status)
	event.UserID = userID
	event.ResourceType = audit.ResourceTypeSchool
	event.Message = string(eventType)
	if school != nil {
		event.ResourceID = school.Slug
		event.Metadata["school_id"] = school.ID
	}
	if subID != "" {
		event.Metadata["subscription_id"] = subID
	}
	if cause != nil {
		event.ErrorMessage = cause.Error()
	}

	if err := g.audit.Log(ctx, event); err != nil {
		g.metrics.ObserveAuditFailure()
		g.logger.WithError(err).WithField("event_type", eventType).Warn("failed to record audit event")
	}
}

// asInvalid reports err as a validation failure while keeping it in the chain
func asInvalid(err error) error {
	var be *Error
	if errors.As(err, &be) && be.Kind == KindValidationFailed {
		return err
	}
	msg := err.Error()
	if be != nil {
		msg = be.Message
	}
	return &Error{Kind: KindValidationFailed, Message: msg, Err: err}
}
