package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

const subscriptionJSON = `{
	"id": "sub_1",
	"object": "subscription",
	"status": "active",
	"customer": "cus_1",
	"cancel_at_period_end": %s,
	"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": "%s", "object": "price"}, "quantity": 1}]}
}`

type stripeRequest struct {
	Method string
	Path   string
	Form   map[string]string
}

func newTestStripeProcessor(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*StripeProcessor, *observability.Metrics, *[]stripeRequest) {
	t.Helper()

	var requests []stripeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		requests = append(requests, stripeRequest{Method: r.Method, Path: r.URL.Path, Form: form})

		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	processor, err := NewStripeProcessor(StripeConfig{SecretKey: "sk_test_123", APIURL: server.URL}, nil, metrics)
	require.NoError(t, err)
	return processor, metrics, &requests
}

func TestNewStripeProcessorRequiresKey(t *testing.T) {
	_, err := NewStripeProcessor(StripeConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestStripeProcessorRetrieve(t *testing.T) {
	processor, metrics, requests := newTestStripeProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sprintfJSON(subscriptionJSON, "false", "price_basic")))
	})

	sub, err := processor.RetrieveSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "cus_1", sub.Customer.ID)
	require.Len(t, sub.Items.Data, 1)
	assert.Equal(t, "si_1", sub.Items.Data[0].ID)

	require.Len(t, *requests, 1)
	assert.Equal(t, http.MethodGet, (*requests)[0].Method)
	assert.Equal(t, "/v1/subscriptions/sub_1", (*requests)[0].Path)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ProcessorCallsTotal.WithLabelValues("subscription.retrieve", "success")))
}

func TestStripeProcessorChangePrice(t *testing.T) {
	processor, _, requests := newTestStripeProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sprintfJSON(subscriptionJSON, "false", "price_pro")))
	})

	sub, err := processor.ChangeSubscriptionPrice(context.Background(), "sub_1", "si_1", "price_pro")
	require.NoError(t, err)
	assert.Equal(t, "price_pro", sub.Items.Data[0].Price.ID)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/v1/subscriptions/sub_1", req.Path)
	assert.Equal(t, "false", req.Form["cancel_at_period_end"])
	assert.Equal(t, "create_prorations", req.Form["proration_behavior"])
	assert.Equal(t, "si_1", req.Form["items[0][id]"])
	assert.Equal(t, "price_pro", req.Form["items[0][price]"])
}

func TestStripeProcessorSetCancelAtPeriodEnd(t *testing.T) {
	processor, _, requests := newTestStripeProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sprintfJSON(subscriptionJSON, r.PostForm.Get("cancel_at_period_end"), "price_basic")))
	})

	sub, err := processor.SetCancelAtPeriodEnd(context.Background(), "sub_1", true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	sub, err = processor.SetCancelAtPeriodEnd(context.Background(), "sub_1", false)
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)

	require.Len(t, *requests, 2)
	assert.Equal(t, "true", (*requests)[0].Form["cancel_at_period_end"])
	assert.Equal(t, "false", (*requests)[1].Form["cancel_at_period_end"])
}

func TestStripeProcessorError(t *testing.T) {
	processor, metrics, _ := newTestStripeProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "No such subscription: 'sub_nope'", "param": "id"}}`))
	})

	_, err := processor.RetrieveSubscription(context.Background(), "sub_nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscription.retrieve")

	var se *stripe.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.HTTPStatusCode)

	upstream := Upstream(err)
	assert.Equal(t, KindUpstreamFailure, KindOf(upstream))
	assert.Equal(t, "No such subscription: 'sub_nope'", upstream.Error())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ProcessorCallsTotal.WithLabelValues("subscription.retrieve", "error")))
}

func TestStripeProcessorRequestCarriesSpan(t *testing.T) {
	processor, _, _ := newTestStripeProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sprintfJSON(subscriptionJSON, "false", "price_basic")))
	})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())
	processor.tracer = tp.Tracer("test")

	params := &stripe.SubscriptionParams{}
	var requestSpan trace.SpanContext
	_, err := processor.call(context.Background(), "subscription.retrieve", "sub_1", &params.Params, func() (*stripe.Subscription, error) {
		requestSpan = trace.SpanContextFromContext(params.Context)
		return processor.sc.Subscriptions.Get("sub_1", params)
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "stripe.subscription.retrieve", spans[0].Name())
	assert.True(t, requestSpan.IsValid())
	assert.Equal(t, spans[0].SpanContext().SpanID(), requestSpan.SpanID())
}
