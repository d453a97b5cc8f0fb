package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

// HandleWebhook verifies a processor event and applies it to the mirror.
// Unknown event types are acknowledged without changes.
func (g *Gateway) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	if g.config.WebhookSecret == "" {
		return Invalid("webhook secret is not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		g.metrics.ObserveWebhook("invalid", err)
		return &Error{Kind: KindValidationFailed, Message: "invalid webhook signature", Err: err}
	}

	eventType := string(event.Type)
	defer func() { g.metrics.ObserveWebhook(eventType, err) }()

	log := observability.FromContext(ctx).WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
	})

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var remote stripe.Subscription
		if err := decodeEventObject(event, &remote); err != nil {
			return err
		}
		current, err := g.currentSubscription(ctx, event, &remote)
		if err != nil {
			return err
		}
		if err := g.mirror.ApplyRemoteSubscription(ctx, 0, SubscriptionFromStripe(current)); err != nil {
			return err
		}

	case stripe.EventTypeCustomerCreated, stripe.EventTypeCustomerUpdated:
		var remote stripe.Customer
		if err := decodeEventObject(event, &remote); err != nil {
			return err
		}
		if err := g.mirror.UpsertCustomer(ctx, CustomerFromStripe(&remote)); err != nil {
			return err
		}

	case stripe.EventTypePaymentMethodAttached, stripe.EventTypePaymentMethodUpdated:
		var remote stripe.PaymentMethod
		if err := decodeEventObject(event, &remote); err != nil {
			return err
		}
		if err := g.mirror.UpsertPaymentMethod(ctx, PaymentMethodFromStripe(&remote)); err != nil {
			return err
		}

	case stripe.EventTypePriceCreated, stripe.EventTypePriceUpdated, stripe.EventTypePriceDeleted:
		var remote stripe.Price
		if err := decodeEventObject(event, &remote); err != nil {
			return err
		}
		plan := PlanFromStripe(&remote)
		if event.Type == stripe.EventTypePriceDeleted {
			plan.Active = false
		}
		if err := g.mirror.UpsertPlan(ctx, plan); err != nil {
			return err
		}

	default:
		log.Debug("ignoring webhook event")
		return nil
	}

	log.Info("applied webhook event")
	return nil
}

// currentSubscription returns the processor's present state for a subscription
// event. Events can arrive out of order, so the payload of a created or updated
// event is only a hint; deletion is terminal and applied as delivered.
func (g *Gateway) currentSubscription(ctx context.Context, event stripe.Event, remote *stripe.Subscription) (*stripe.Subscription, error) {
	if event.Type == stripe.EventTypeCustomerSubscriptionDeleted || remote.ID == "" {
		return remote, nil
	}
	current, err := g.processor.RetrieveSubscription(ctx, remote.ID)
	if err != nil {
		return nil, Upstream(err)
	}
	return current, nil
}

func decodeEventObject(event stripe.Event, dst any) error {
	if event.Data == nil {
		return Invalid("event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, dst); err != nil {
		return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf("failed to decode %s payload", event.Type), Err: err}
	}
	return nil
}
