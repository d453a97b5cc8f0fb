package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

const tracerName = "github.com/platinummonkey/schoolbilling/pkg/billing"

// StripeConfig configures the processor client
type StripeConfig struct {
	SecretKey string
	// APIURL overrides the API base URL, used for stripe-mock and tests
	APIURL            string
	MaxNetworkRetries int64
}

// StripeProcessor implements Processor against the Stripe API.
// Each instance owns its client; the package-level stripe.Key is never touched.
type StripeProcessor struct {
	sc      *client.API
	tracer  trace.Tracer
	metrics *observability.Metrics
}

// NewStripeProcessor creates a processor from explicit configuration
func NewStripeProcessor(cfg StripeConfig, logger *logrus.Logger, metrics *observability.Metrics) (*StripeProcessor, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	if logger != nil {
		backendCfg.LeveledLogger = logger
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	sc := &client.API{}
	sc.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &StripeProcessor{
		sc:      sc,
		tracer:  otel.Tracer(tracerName),
		metrics: metrics,
	}, nil
}

// RetrieveSubscription fetches a subscription with its items
func (p *StripeProcessor) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}

	return p.call(ctx, "subscription.retrieve", id, &params.Params, func() (*stripe.Subscription, error) {
		return p.sc.Subscriptions.Get(id, params)
	})
}

// ChangeSubscriptionPrice moves the given item to priceID with prorations and clears any pending cancellation
func (p *StripeProcessor) ChangeSubscriptionPrice(ctx context.Context, id, itemID, priceID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
		ProrationBehavior: stripe.String(ProrationCreate),
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(priceID),
			},
		},
	}

	return p.call(ctx, "subscription.change_price", id, &params.Params, func() (*stripe.Subscription, error) {
		return p.sc.Subscriptions.Update(id, params)
	})
}

// SetCancelAtPeriodEnd schedules or clears cancellation at the end of the current period
func (p *StripeProcessor) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}

	return p.call(ctx, "subscription.set_cancel_at_period_end", id, &params.Params, func() (*stripe.Subscription, error) {
		return p.sc.Subscriptions.Update(id, params)
	})
}

// call runs fn inside a client span; the request inherits the span's context
func (p *StripeProcessor) call(ctx context.Context, operation, id string, params *stripe.Params, fn func() (*stripe.Subscription, error)) (*stripe.Subscription, error) {
	ctx, span := p.tracer.Start(ctx, "stripe."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("billing.subscription_id", id)),
	)
	defer span.End()
	params.Context = ctx

	start := time.Now()
	sub, err := fn()
	p.metrics.ObserveProcessorCall(operation, start, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to %s: %w", operation, err)
	}
	return sub, nil
}
