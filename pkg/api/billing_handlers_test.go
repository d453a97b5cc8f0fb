package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/billing"
	"github.com/platinummonkey/schoolbilling/pkg/contextkeys"
)

func newTestServer(t *testing.T, svc billing.Service) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewServer(Dependencies{Billing: svc, Tokens: testTokens, Logger: logger}, Config{})
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func linkedSub(cancelAtPeriodEnd bool) *billing.Subscription {
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return &billing.Subscription{
		ID:                "sub_remote",
		CustomerID:        "cus_1",
		Status:            billing.SubscriptionStatusActive,
		Quantity:          1,
		CurrentPeriodEnd:  &end,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
	}
}

func TestBillingRoutesRequireManager(t *testing.T) {
	s := newTestServer(t, &mockBillingService{})

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/plans"},
		{"POST", "/api/v1/subscriptions/create"},
		{"POST", "/api/v1/subscriptions/update"},
		{"POST", "/api/v1/subscriptions/cancel"},
		{"POST", "/api/v1/subscriptions/reactivate"},
		{"POST", "/api/v1/subscriptions/retrieve"},
		{"GET", "/api/v1/subscriptions/sub_1"},
		{"POST", "/api/v1/payment-method"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(s, rt.method, rt.path, "", "{}").Code)
			assert.Equal(t, http.StatusUnauthorized, do(s, rt.method, rt.path, "bogus", "{}").Code)
			assert.Equal(t, http.StatusForbidden, do(s, rt.method, rt.path, "staff", "{}").Code)
		})
	}
}

func TestListPlans(t *testing.T) {
	t.Run("returns active plans", func(t *testing.T) {
		svc := &mockBillingService{
			listActivePlansFunc: func(ctx context.Context) ([]*billing.Plan, error) {
				return []*billing.Plan{{ID: "price_pro", Amount: 4900, Currency: "usd", Interval: "month", Active: true}}, nil
			},
		}
		w := do(newTestServer(t, svc), "GET", "/api/v1/plans", "manager", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"price_pro"`)
	})

	t.Run("empty list is an empty array", func(t *testing.T) {
		svc := &mockBillingService{
			listActivePlansFunc: func(ctx context.Context) ([]*billing.Plan, error) { return nil, nil },
		}
		w := do(newTestServer(t, svc), "GET", "/api/v1/plans", "manager", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		svc := &mockBillingService{
			listActivePlansFunc: func(ctx context.Context) ([]*billing.Plan, error) { return nil, errors.New("db down") },
		}
		w := do(newTestServer(t, svc), "GET", "/api/v1/plans", "manager", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "db down")
	})
}

func TestCreateSubscription(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotUser *auth.User
		var gotReq *billing.CreateSubscriptionRequest
		svc := &mockBillingService{
			createFunc: func(ctx context.Context, user *auth.User, req *billing.CreateSubscriptionRequest) (*billing.CreateSubscriptionResult, error) {
				gotUser, gotReq = user, req
				return &billing.CreateSubscriptionResult{Subscription: &billing.Subscription{ID: "dummy_sub_3_1700000000", Status: billing.SubscriptionStatusActive}}, nil
			},
		}

		w := do(newTestServer(t, svc), "POST", "/api/v1/subscriptions/create", "manager", `{"schoolId": 3, "email": "head@riverside.edu"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"customer":null`)
		assert.Contains(t, w.Body.String(), `"dummy_sub_3_1700000000"`)
		assert.Equal(t, managerUser, gotUser)
		assert.Equal(t, int64(3), gotReq.SchoolID)
		assert.Equal(t, "head@riverside.edu", gotReq.Email)
	})

	t.Run("school id as string", func(t *testing.T) {
		var gotID int64
		svc := &mockBillingService{
			createFunc: func(ctx context.Context, user *auth.User, req *billing.CreateSubscriptionRequest) (*billing.CreateSubscriptionResult, error) {
				gotID = req.SchoolID
				return &billing.CreateSubscriptionResult{Subscription: &billing.Subscription{ID: "dummy_sub_3_1"}}, nil
			},
		}
		w := do(newTestServer(t, svc), "POST", "/api/v1/subscriptions/create", "manager", `{"schoolId": "3", "email": "head@riverside.edu"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(3), gotID)
	})

	t.Run("every failure is 400 with error envelope", func(t *testing.T) {
		failures := []error{
			billing.Invalid("email does not match the authenticated user"),
			billing.NotFound("missing"),
			errors.New("db down"),
		}
		for _, failure := range failures {
			failure := failure
			svc := &mockBillingService{
				createFunc: func(ctx context.Context, user *auth.User, req *billing.CreateSubscriptionRequest) (*billing.CreateSubscriptionResult, error) {
					return nil, failure
				},
			}
			w := do(newTestServer(t, svc), "POST", "/api/v1/subscriptions/create", "manager", `{"schoolId": 3, "email": "x@y.z"}`)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, `{"error":"`+failure.Error()+`"}`, w.Body.String())
		}
	})

	t.Run("bad school id", func(t *testing.T) {
		w := do(newTestServer(t, &mockBillingService{}), "POST", "/api/v1/subscriptions/create", "manager", `{"schoolId": "abc"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"error"`)
	})
}

func TestSlugOperations(t *testing.T) {
	notFound := billing.NotFound("No School matches the given query.")

	tests := []struct {
		name       string
		path       string
		body       string
		svc        *mockBillingService
		wantStatus int
		wantBody   string
	}{
		{
			name: "update",
			path: "/api/v1/subscriptions/update",
			body: `{"slug":"riverside","price_id":"price_pro"}`,
			svc: &mockBillingService{updateFunc: func(ctx context.Context, user *auth.User, req *billing.UpdateSubscriptionRequest) (*billing.Subscription, error) {
				if user == nil || user.ID != managerUser.ID || req.Slug != "riverside" || req.PriceID != "price_pro" {
					return nil, errors.New("unexpected request")
				}
				return linkedSub(false), nil
			}},
			wantStatus: http.StatusOK,
			wantBody:   `"cancel_at_period_end":false`,
		},
		{
			name: "update unknown slug",
			path: "/api/v1/subscriptions/update",
			body: `{"slug":"nowhere","price_id":"price_pro"}`,
			svc: &mockBillingService{updateFunc: func(ctx context.Context, user *auth.User, req *billing.UpdateSubscriptionRequest) (*billing.Subscription, error) {
				return nil, notFound
			}},
			wantStatus: http.StatusNotFound,
			wantBody:   `{"detail":"No School matches the given query."}`,
		},
		{
			name: "cancel",
			path: "/api/v1/subscriptions/cancel",
			body: `{"slug":"riverside"}`,
			svc: &mockBillingService{cancelFunc: func(ctx context.Context, user *auth.User, slug string) (*billing.Subscription, error) {
				return linkedSub(true), nil
			}},
			wantStatus: http.StatusOK,
			wantBody:   `"cancel_at_period_end":true`,
		},
		{
			name: "cancel processor failure",
			path: "/api/v1/subscriptions/cancel",
			body: `{"slug":"riverside"}`,
			svc: &mockBillingService{cancelFunc: func(ctx context.Context, user *auth.User, slug string) (*billing.Subscription, error) {
				return nil, billing.Upstream(&stripe.Error{Msg: "No such subscription: 'sub_remote'", HTTPStatusCode: 404})
			}},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"detail":"No such subscription: 'sub_remote'"}`,
		},
		{
			name: "reactivate",
			path: "/api/v1/subscriptions/reactivate",
			body: `{"slug":"riverside"}`,
			svc: &mockBillingService{reactivateFunc: func(ctx context.Context, user *auth.User, slug string) (*billing.Subscription, error) {
				return linkedSub(false), nil
			}},
			wantStatus: http.StatusOK,
			wantBody:   `"cancel_at_period_end":false`,
		},
		{
			name: "reactivate denied",
			path: "/api/v1/subscriptions/reactivate",
			body: `{"slug":"riverside"}`,
			svc: &mockBillingService{reactivateFunc: func(ctx context.Context, user *auth.User, slug string) (*billing.Subscription, error) {
				return nil, billing.Denied("not allowed")
			}},
			wantStatus: http.StatusForbidden,
			wantBody:   `{"detail":"not allowed"}`,
		},
		{
			name:       "malformed body",
			path:       "/api/v1/subscriptions/cancel",
			body:       `{"slug":`,
			svc:        &mockBillingService{},
			wantStatus: http.StatusBadRequest,
			wantBody:   `"detail"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newTestServer(t, tt.svc), "POST", tt.path, "manager", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if strings.HasPrefix(tt.wantBody, "{") {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRetrieveProcessorSubscription(t *testing.T) {
	t.Run("returns the processor object", func(t *testing.T) {
		svc := &mockBillingService{
			retrieveProcessorFunc: func(ctx context.Context, id string) (*stripe.Subscription, error) {
				return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusActive}, nil
			},
		}
		w := do(newTestServer(t, svc), "POST", "/api/v1/subscriptions/retrieve", "manager", `{"id":"sub_remote"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":"sub_remote"`)
		assert.Contains(t, w.Body.String(), `"status":"active"`)
	})

	t.Run("processor failure is a 500", func(t *testing.T) {
		svc := &mockBillingService{
			retrieveProcessorFunc: func(ctx context.Context, id string) (*stripe.Subscription, error) {
				return nil, billing.Upstream(&stripe.Error{Msg: "No such subscription", HTTPStatusCode: 404})
			},
		}
		w := do(newTestServer(t, svc), "POST", "/api/v1/subscriptions/retrieve", "manager", `{"id":"sub_missing"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"detail":"A server error occurred."}`, w.Body.String())
	})
}

func TestGetSubscription(t *testing.T) {
	svc := &mockBillingService{
		getSubscriptionFunc: func(ctx context.Context, user *auth.User, id string) (*billing.Subscription, error) {
			if id == "sub_remote" {
				return linkedSub(false), nil
			}
			return nil, billing.NotFound("No Subscription matches the given query.")
		},
	}
	s := newTestServer(t, svc)

	w := do(s, "GET", "/api/v1/subscriptions/sub_remote", "manager", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sub_remote"`)

	w = do(s, "GET", "/api/v1/subscriptions/sub_missing", "manager", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"No Subscription matches the given query."}`, w.Body.String())

	svc.getSubscriptionFunc = func(ctx context.Context, user *auth.User, id string) (*billing.Subscription, error) {
		return nil, billing.Denied("You do not have permission to perform this action.")
	}
	w = do(s, "GET", "/api/v1/subscriptions/sub_other", "manager", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetSubscriptionHandlerDirect(t *testing.T) {
	h := NewBillingHandlers(&mockBillingService{
		getSubscriptionFunc: func(ctx context.Context, user *auth.User, id string) (*billing.Subscription, error) {
			return &billing.Subscription{ID: id}, nil
		},
	})

	r := httptest.NewRequest("GET", "/api/v1/subscriptions/sub_9", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "sub_9"})
	w := httptest.NewRecorder()
	h.GetSubscription(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sub_9"`)

	w = httptest.NewRecorder()
	h.GetSubscription(w, httptest.NewRequest("GET", "/api/v1/subscriptions/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPaymentMethod(t *testing.T) {
	t.Run("returns the default payment method", func(t *testing.T) {
		var gotUser *auth.User
		svc := &mockBillingService{
			defaultPaymentMethodFunc: func(ctx context.Context, user *auth.User) (*billing.PaymentMethod, error) {
				gotUser = user
				return &billing.PaymentMethod{ID: "pm_9", Type: billing.PaymentMethodTypeCard, CardLast4: "4242"}, nil
			},
		}
		w := do(newTestServer(t, svc), "POST", "/api/v1/payment-method", "manager", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"pm_9"`)
		assert.Equal(t, managerUser, gotUser)
	})

	t.Run("missing customer is a 400", func(t *testing.T) {
		svc := &mockBillingService{
			defaultPaymentMethodFunc: func(ctx context.Context, user *auth.User) (*billing.PaymentMethod, error) {
				return nil, billing.Invalid("user has no billing customer")
			},
		}
		w := do(newTestServer(t, svc), "POST", "/api/v1/payment-method", "manager", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"detail":"user has no billing customer"}`, w.Body.String())
	})
}

func TestHandleWebhook(t *testing.T) {
	t.Run("acknowledges without bearer auth", func(t *testing.T) {
		var gotSig string
		var gotPayload string
		svc := &mockBillingService{
			handleWebhookFunc: func(ctx context.Context, payload []byte, signature string) error {
				gotSig, gotPayload = signature, string(payload)
				return nil
			},
		}
		r := httptest.NewRequest("POST", "/api/v1/billing/webhook", strings.NewReader(`{"id":"evt_1"}`))
		r.Header.Set("Stripe-Signature", "t=1,v1=abc")
		w := httptest.NewRecorder()
		newTestServer(t, svc).ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
		assert.Equal(t, "t=1,v1=abc", gotSig)
		assert.Equal(t, `{"id":"evt_1"}`, gotPayload)
	})

	t.Run("bad signature is a 400", func(t *testing.T) {
		svc := &mockBillingService{
			handleWebhookFunc: func(ctx context.Context, payload []byte, signature string) error {
				return billing.Invalid("invalid webhook signature")
			},
		}
		w := do(newTestServer(t, svc), "POST", "/api/v1/billing/webhook", "", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("mirror failure is a 500 so the processor retries", func(t *testing.T) {
		svc := &mockBillingService{
			handleWebhookFunc: func(ctx context.Context, payload []byte, signature string) error {
				return errors.New("db down")
			},
		}
		w := do(newTestServer(t, svc), "POST", "/api/v1/billing/webhook", "", `{}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("oversized payload", func(t *testing.T) {
		called := false
		svc := &mockBillingService{
			handleWebhookFunc: func(ctx context.Context, payload []byte, signature string) error {
				called = true
				return nil
			},
		}
		w := do(newTestServer(t, svc), "POST", "/api/v1/billing/webhook", "", strings.Repeat("x", maxWebhookBytes+1))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.False(t, called)
	})
}

func TestCurrentUser(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Nil(t, currentUser(r))

	r = r.WithContext(contextkeys.WithAuth(r.Context(), &auth.AuthContext{User: staffUser}))
	assert.Equal(t, staffUser, currentUser(r))
}
