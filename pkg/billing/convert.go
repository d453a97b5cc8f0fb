package billing

import (
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// SubscriptionFromStripe converts a processor subscription into its mirrored form.
// Plan, quantity and billing period come from the first item.
func SubscriptionFromStripe(s *stripe.Subscription) *Subscription {
	sub := &Subscription{
		ID:                s.ID,
		Status:            SubscriptionStatus(s.Status),
		StartDate:         unixTime(s.StartDate),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CanceledAt:        unixTime(s.CanceledAt),
		EndedAt:           unixTime(s.EndedAt),
		TrialEnd:          unixTime(s.TrialEnd),
		Livemode:          s.Livemode,
	}
	if created := unixTime(s.Created); created != nil {
		sub.CreatedAt = *created
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if len(s.Metadata) > 0 {
		sub.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			sub.Metadata[k] = v
		}
	}

	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			sub.PlanID = &item.Price.ID
		}
		sub.Quantity = item.Quantity
		sub.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		sub.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}

	return sub
}

// CustomerFromStripe converts a processor customer. SubscriberID is left unset.
func CustomerFromStripe(c *stripe.Customer) *Customer {
	customer := &Customer{
		ID:       c.ID,
		Email:    c.Email,
		Currency: string(c.Currency),
		Livemode: c.Livemode,
	}
	if created := unixTime(c.Created); created != nil {
		customer.CreatedAt = *created
	}
	if c.InvoiceSettings != nil && c.InvoiceSettings.DefaultPaymentMethod != nil {
		customer.DefaultPaymentMethod = &c.InvoiceSettings.DefaultPaymentMethod.ID
	}
	return customer
}

// PaymentMethodFromStripe converts a processor payment method
func PaymentMethodFromStripe(p *stripe.PaymentMethod) *PaymentMethod {
	pm := &PaymentMethod{
		ID:   p.ID,
		Type: PaymentMethodType(p.Type),
	}
	if created := unixTime(p.Created); created != nil {
		pm.CreatedAt = *created
	}
	if p.Customer != nil {
		pm.CustomerID = &p.Customer.ID
	}
	if p.Card != nil {
		pm.CardBrand = string(p.Card.Brand)
		pm.CardLast4 = p.Card.Last4
		pm.CardExpMonth = p.Card.ExpMonth
		pm.CardExpYear = p.Card.ExpYear
	}
	if p.BillingDetails != nil {
		pm.BillingEmail = p.BillingDetails.Email
	}
	return pm
}

// PlanFromStripe converts a processor price into a mirrored plan
func PlanFromStripe(p *stripe.Price) *Plan {
	plan := &Plan{
		ID:       p.ID,
		Nickname: p.Nickname,
		Amount:   p.UnitAmount,
		Currency: string(p.Currency),
		Active:   p.Active,
	}
	if created := unixTime(p.Created); created != nil {
		plan.CreatedAt = *created
	}
	if p.Product != nil {
		plan.ProductID = p.Product.ID
	}
	if p.Recurring != nil {
		plan.Interval = string(p.Recurring.Interval)
		plan.IntervalCount = p.Recurring.IntervalCount
	}
	return plan
}
