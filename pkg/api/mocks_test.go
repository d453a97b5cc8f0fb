package api

import (
	"context"
	"errors"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/billing"
)

type mockBillingService struct {
	listActivePlansFunc      func(ctx context.Context) ([]*billing.Plan, error)
	createFunc               func(ctx context.Context, user *auth.User, req *billing.CreateSubscriptionRequest) (*billing.CreateSubscriptionResult, error)
	updateFunc               func(ctx context.Context, user *auth.User, req *billing.UpdateSubscriptionRequest) (*billing.Subscription, error)
	cancelFunc               func(ctx context.Context, user *auth.User, slug string) (*billing.Subscription, error)
	reactivateFunc           func(ctx context.Context, user *auth.User, slug string) (*billing.Subscription, error)
	retrieveProcessorFunc    func(ctx context.Context, id string) (*stripe.Subscription, error)
	getSubscriptionFunc      func(ctx context.Context, user *auth.User, id string) (*billing.Subscription, error)
	defaultPaymentMethodFunc func(ctx context.Context, user *auth.User) (*billing.PaymentMethod, error)
	handleWebhookFunc        func(ctx context.Context, payload []byte, signature string) error
}

var errNotMocked = errors.New("not mocked")

func (m *mockBillingService) ListActivePlans(ctx context.Context) ([]*billing.Plan, error) {
	if m.listActivePlansFunc != nil {
		return m.listActivePlansFunc(ctx)
	}
	return nil, errNotMocked
}

func (m *mockBillingService) CreateSchoolSubscription(ctx context.Context, user *auth.User, req *billing.CreateSubscriptionRequest) (*billing.CreateSubscriptionResult, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, user, req)
	}
	return nil, errNotMocked
}

func (m *mockBillingService) UpdateSubscription(ctx context.Context, user *auth.User, req *billing.UpdateSubscriptionRequest) (*billing.Subscription, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, user, req)
	}
	return nil, errNotMocked
}

func (m *mockBillingService) CancelSubscription(ctx context.Context, user *auth.User, slug string) (*billing.Subscription, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, user, slug)
	}
	return nil, errNotMocked
}

func (m *mockBillingService) ReactivateSubscription(ctx context.Context, user *auth.User, slug string) (*billing.Subscription, error) {
	if m.reactivateFunc != nil {
		return m.reactivateFunc(ctx, user, slug)
	}
	return nil, errNotMocked
}

func (m *mockBillingService) RetrieveProcessorSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if m.retrieveProcessorFunc != nil {
		return m.retrieveProcessorFunc(ctx, id)
	}
	return nil, errNotMocked
}

func (m *mockBillingService) GetSubscription(ctx context.Context, user *auth.User, id string) (*billing.Subscription, error) {
	if m.getSubscriptionFunc != nil {
		return m.getSubscriptionFunc(ctx, user, id)
	}
	return nil, errNotMocked
}

func (m *mockBillingService) DefaultPaymentMethod(ctx context.Context, user *auth.User) (*billing.PaymentMethod, error) {
	if m.defaultPaymentMethodFunc != nil {
		return m.defaultPaymentMethodFunc(ctx, user)
	}
	return nil, errNotMocked
}

func (m *mockBillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if m.handleWebhookFunc != nil {
		return m.handleWebhookFunc(ctx, payload, signature)
	}
	return errNotMocked
}

type fakeTokens map[string]*auth.User

func (f fakeTokens) ValidateToken(ctx context.Context, token string) (*auth.AuthContext, error) {
	if user, ok := f[token]; ok {
		return &auth.AuthContext{User: user}, nil
	}
	return nil, errors.New("unknown token")
}

var (
	managerUser = &auth.User{ID: 7, Email: "head@riverside.edu", IsManager: true, IsActive: true}
	staffUser   = &auth.User{ID: 8, Email: "staff@riverside.edu", IsActive: true}

	testTokens = fakeTokens{
		"manager": managerUser,
		"staff":   staffUser,
	}
)
