package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/billing"
	"github.com/platinummonkey/schoolbilling/pkg/httputil"
	"github.com/platinummonkey/schoolbilling/pkg/middleware"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

// maxWebhookBytes matches the processor's documented upper bound for event payloads
const maxWebhookBytes = 65536

// BillingHandlers handles billing-related HTTP requests
type BillingHandlers struct {
	billingService billing.Service
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(billingService billing.Service) *BillingHandlers {
	return &BillingHandlers{
		billingService: billingService,
	}
}

// RegisterRoutes registers the manager-only billing routes on an authenticated router
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	manager := func(fn http.HandlerFunc) http.Handler {
		return middleware.RequireManager(fn)
	}

	router.Handle("/plans", manager(h.ListPlans)).Methods("GET")

	// Subscriptions
	router.Handle("/subscriptions/create", manager(h.CreateSubscription)).Methods("POST")
	router.Handle("/subscriptions/update", manager(h.UpdateSubscription)).Methods("POST")
	router.Handle("/subscriptions/cancel", manager(h.CancelSubscription)).Methods("POST")
	router.Handle("/subscriptions/reactivate", manager(h.ReactivateSubscription)).Methods("POST")
	router.Handle("/subscriptions/retrieve", manager(h.RetrieveProcessorSubscription)).Methods("POST")
	router.Handle("/subscriptions/{id}", manager(h.GetSubscription)).Methods("GET")

	// Payment methods
	router.Handle("/payment-method", manager(h.GetPaymentMethod)).Methods("POST")
}

// RegisterWebhookRoute registers the processor webhook. It must not sit behind bearer auth.
func (h *BillingHandlers) RegisterWebhookRoute(router *mux.Router) {
	router.HandleFunc("/api/v1/billing/webhook", h.HandleWebhook).Methods("POST")
}

func currentUser(r *http.Request) *auth.User {
	if authCtx := middleware.GetAuthContext(r); authCtx != nil {
		return authCtx.User
	}
	return nil
}

// ListPlans returns every active plan
func (h *BillingHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.billingService.ListActivePlans(r.Context())
	if err != nil {
		writeBillingError(w, r, err)
		return
	}
	if plans == nil {
		plans = []*billing.Plan{}
	}
	httputil.WriteJSON(w, http.StatusOK, plans)
}

// createRequest accepts schoolId as a JSON number or a numeric string
type createRequest struct {
	SchoolID json.Number `json:"schoolId"`
	Email    string      `json:"email"`
}

// CreateSubscription attaches a subscription to the caller's school.
// Every failure is a 400 with the {"error"} envelope.
func (h *BillingHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := httputil.ParseJSON(r, &body); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	schoolID, err := strconv.ParseInt(body.SchoolID.String(), 10, 64)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "schoolId must be an integer")
		return
	}

	result, err := h.billingService.CreateSchoolSubscription(r.Context(), currentUser(r), &billing.CreateSubscriptionRequest{
		SchoolID: schoolID,
		Email:    body.Email,
	})
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("school_id", schoolID).Info("create subscription rejected")
		httputil.WriteErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// UpdateSubscription moves a school's subscription to a new price
func (h *BillingHandlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req billing.UpdateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.billingService.UpdateSubscription(r.Context(), currentUser(r), &req)
	if err != nil {
		writeBillingError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// CancelSubscription schedules cancellation at the end of the current period
func (h *BillingHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req billing.SlugRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.billingService.CancelSubscription(r.Context(), currentUser(r), req.Slug)
	if err != nil {
		writeBillingError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// ReactivateSubscription clears a scheduled cancellation
func (h *BillingHandlers) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	var req billing.SlugRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.billingService.ReactivateSubscription(r.Context(), currentUser(r), req.Slug)
	if err != nil {
		writeBillingError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// RetrieveProcessorSubscription returns the processor object unchanged. Any failure is a 500.
func (h *BillingHandlers) RetrieveProcessorSubscription(w http.ResponseWriter, r *http.Request) {
	var req billing.RetrieveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.billingService.RetrieveProcessorSubscription(r.Context(), req.ID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("subscription_id", req.ID).Error("processor retrieve failed")
		httputil.WriteDetail(w, http.StatusInternalServerError, msgServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// GetSubscription returns the mirrored subscription of a school the caller manages
func (h *BillingHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	sub, err := h.billingService.GetSubscription(r.Context(), currentUser(r), id)
	if err != nil {
		writeBillingError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// GetPaymentMethod returns the caller's default payment method
func (h *BillingHandlers) GetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	pm, err := h.billingService.DefaultPaymentMethod(r.Context(), currentUser(r))
	if err != nil {
		writeBillingError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pm)
}

// HandleWebhook verifies and applies a processor event
func (h *BillingHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		httputil.WriteDetail(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(payload) > maxWebhookBytes {
		httputil.WriteDetail(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := h.billingService.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		var be *billing.Error
		if errors.As(err, &be) && be.Kind == billing.KindValidationFailed {
			httputil.WriteDetail(w, http.StatusBadRequest, be.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("webhook processing failed")
		httputil.WriteDetail(w, http.StatusInternalServerError, msgServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
