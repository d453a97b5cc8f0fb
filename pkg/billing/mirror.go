package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
	"github.com/platinummonkey/schoolbilling/pkg/schools"
)

const selectSubscription = `
	SELECT id, customer_id, status, plan_id, quantity, start_date,
	       current_period_start, current_period_end, cancel_at_period_end,
	       canceled_at, ended_at, trial_end, livemode, metadata, created_at, updated_at
	FROM billing_subscriptions
`

// PostgresMirror implements Mirror using PostgreSQL
type PostgresMirror struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewPostgresMirror creates a new PostgresMirror
func NewPostgresMirror(db *sql.DB, metrics *observability.Metrics) *PostgresMirror {
	return &PostgresMirror{db: db, metrics: metrics}
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ListActivePlans returns every active plan ordered by amount
func (m *PostgresMirror) ListActivePlans(ctx context.Context) (plans []*Plan, err error) {
	defer m.observe("plan.list", time.Now(), &err)

	query := `
		SELECT id, product_id, nickname, amount, currency, interval, interval_count, active, created_at
		FROM billing_plans
		WHERE active = true
		ORDER BY amount, id
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans = make([]*Plan, 0)
	for rows.Next() {
		plan := &Plan{}
		if err := rows.Scan(&plan.ID, &plan.ProductID, &plan.Nickname, &plan.Amount, &plan.Currency,
			&plan.Interval, &plan.IntervalCount, &plan.Active, &plan.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return plans, nil
}

// GetSubscription retrieves a mirrored subscription by id
func (m *PostgresMirror) GetSubscription(ctx context.Context, id string) (sub *Subscription, err error) {
	defer m.observe("subscription.get", time.Now(), &err)
	return getSubscription(ctx, m.db, id)
}

func getSubscription(ctx context.Context, q queryer, id string) (*Subscription, error) {
	sub, err := scanSubscription(q.QueryRowContext(ctx, selectSubscription+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("No Subscription matches the given query.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	sub := &Subscription{}
	var planID sql.NullString
	var startDate, periodStart, periodEnd, canceledAt, endedAt, trialEnd sql.NullTime
	var metadata []byte

	err := row.Scan(&sub.ID, &sub.CustomerID, &sub.Status, &planID, &sub.Quantity, &startDate,
		&periodStart, &periodEnd, &sub.CancelAtPeriodEnd,
		&canceledAt, &endedAt, &trialEnd, &sub.Livemode, &metadata, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if planID.Valid {
		sub.PlanID = &planID.String
	}
	sub.StartDate = nullTime(startDate)
	sub.CurrentPeriodStart = nullTime(periodStart)
	sub.CurrentPeriodEnd = nullTime(periodEnd)
	sub.CanceledAt = nullTime(canceledAt)
	sub.EndedAt = nullTime(endedAt)
	sub.TrialEnd = nullTime(trialEnd)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return sub, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// GetCustomer retrieves a mirrored customer by id
func (m *PostgresMirror) GetCustomer(ctx context.Context, id string) (customer *Customer, err error) {
	defer m.observe("customer.get", time.Now(), &err)

	query := `
		SELECT id, subscriber_id, email, currency, livemode, default_payment_method, created_at
		FROM billing_customers
		WHERE id = $1
	`
	customer = &Customer{}
	var subscriberID sql.NullInt64
	var defaultPM sql.NullString
	err = m.db.QueryRowContext(ctx, query, id).Scan(&customer.ID, &subscriberID, &customer.Email,
		&customer.Currency, &customer.Livemode, &defaultPM, &customer.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("No Customer matches the given query.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	if subscriberID.Valid {
		customer.SubscriberID = &subscriberID.Int64
	}
	if defaultPM.Valid {
		customer.DefaultPaymentMethod = &defaultPM.String
	}
	return customer, nil
}

// GetPaymentMethod retrieves a mirrored payment method by id
func (m *PostgresMirror) GetPaymentMethod(ctx context.Context, id string) (pm *PaymentMethod, err error) {
	defer m.observe("payment_method.get", time.Now(), &err)

	query := `
		SELECT id, customer_id, type, card_brand, card_last4, card_exp_month, card_exp_year, billing_email, created_at
		FROM billing_payment_methods
		WHERE id = $1
	`
	pm = &PaymentMethod{}
	var customerID, brand, last4, email sql.NullString
	var expMonth, expYear sql.NullInt64
	err = m.db.QueryRowContext(ctx, query, id).Scan(&pm.ID, &customerID, &pm.Type, &brand, &last4,
		&expMonth, &expYear, &email, &pm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("No PaymentMethod matches the given query.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}

	if customerID.Valid {
		pm.CustomerID = &customerID.String
	}
	pm.CardBrand = brand.String
	pm.CardLast4 = last4.String
	pm.CardExpMonth = expMonth.Int64
	pm.CardExpYear = expYear.Int64
	pm.BillingEmail = email.String
	return pm, nil
}

// UserCustomerID reads the customer link from the users table
func (m *PostgresMirror) UserCustomerID(ctx context.Context, userID int64) (customerID *string, err error) {
	defer m.observe("user.customer", time.Now(), &err)

	var linked sql.NullString
	err = m.db.QueryRowContext(ctx, `SELECT customer_id FROM users WHERE id = $1`, userID).Scan(&linked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("No User matches the given query.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user customer: %w", err)
	}
	if !linked.Valid {
		return nil, nil
	}
	return &linked.String, nil
}

// CreateLocalSubscription links a synthesized subscription to the school. The school row is
// locked for the duration so concurrent creates observe each other's link.
func (m *PostgresMirror) CreateLocalSubscription(ctx context.Context, school *schools.School, user *auth.User, now time.Time) (sub *Subscription, err error) {
	defer m.observe("subscription.create_local", time.Now(), &err)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var linked sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT subscription_id FROM schools WHERE id = $1 FOR UPDATE`, school.ID).Scan(&linked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Invalid("School matching query does not exist.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock school: %w", err)
	}

	if linked.Valid {
		sub, err = getSubscription(ctx, tx, linked.String)
		if err != nil {
			return nil, err
		}
	} else {
		customerID, err := getOrCreateCustomer(ctx, tx, user, now)
		if err != nil {
			return nil, err
		}

		periodEnd := now.Add(LocalSubscriptionPeriod)
		sub = &Subscription{
			ID:                 fmt.Sprintf("%s%d_%d", LocalSubscriptionPrefix, school.ID, now.Unix()),
			CustomerID:         customerID,
			Status:             SubscriptionStatusActive,
			Quantity:           1,
			StartDate:          &now,
			CurrentPeriodStart: &now,
			CurrentPeriodEnd:   &periodEnd,
			Metadata:           map[string]any{"school": school.ID},
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := insertLocalSubscription(ctx, tx, sub); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schools SET subscription_id = $1, updated_at = $2 WHERE id = $3`,
			sub.ID, now, school.ID); err != nil {
			return nil, fmt.Errorf("failed to link subscription: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET customer_id = NULL WHERE id = $1`, user.ID); err != nil {
		return nil, fmt.Errorf("failed to detach customer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sub, nil
}

func getOrCreateCustomer(ctx context.Context, tx *sql.Tx, user *auth.User, now time.Time) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM billing_customers WHERE subscriber_id = $1`, user.ID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to get customer: %w", err)
	}

	id = LocalCustomerPrefix + strconv.FormatInt(user.ID, 10)
	query := `
		INSERT INTO billing_customers (id, subscriber_id, email, currency, livemode, created_at)
		VALUES ($1, $2, $3, $4, false, $5)
	`
	if _, err := tx.ExecContext(ctx, query, id, user.ID, user.Email, DefaultCurrency, now); err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return id, nil
}

// insertLocalSubscription keeps an existing row with the same id, matching get-or-create
func insertLocalSubscription(ctx context.Context, tx *sql.Tx, sub *Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO billing_subscriptions (
			id, customer_id, status, plan_id, quantity, start_date,
			current_period_start, current_period_end, cancel_at_period_end,
			livemode, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, NULL, $4, $5, $6, $7, false, false, $8, $9, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = tx.ExecContext(ctx, query, sub.ID, sub.CustomerID, sub.Status, sub.Quantity, sub.StartDate,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, metadata, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// ApplyRemoteSubscription upserts the subscription and, for a non-zero schoolID, links it to
// the school in the same transaction
func (m *PostgresMirror) ApplyRemoteSubscription(ctx context.Context, schoolID int64, sub *Subscription) (err error) {
	defer m.observe("subscription.apply", time.Now(), &err)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertSubscription(ctx, tx, sub); err != nil {
		return err
	}

	if schoolID != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE schools SET subscription_id = $1, updated_at = NOW() WHERE id = $2`,
			sub.ID, schoolID); err != nil {
			return fmt.Errorf("failed to link subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertSubscription(ctx context.Context, tx *sql.Tx, sub *Subscription) error {
	var metadata []byte
	if len(sub.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(sub.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO billing_subscriptions (
			id, customer_id, status, plan_id, quantity, start_date,
			current_period_start, current_period_end, cancel_at_period_end,
			canceled_at, ended_at, trial_end, livemode, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			plan_id = EXCLUDED.plan_id,
			quantity = EXCLUDED.quantity,
			start_date = EXCLUDED.start_date,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			canceled_at = EXCLUDED.canceled_at,
			ended_at = EXCLUDED.ended_at,
			trial_end = EXCLUDED.trial_end,
			livemode = EXCLUDED.livemode,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowContext(ctx, query, sub.ID, sub.CustomerID, sub.Status, sub.PlanID, sub.Quantity,
		sub.StartDate, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.CanceledAt, sub.EndedAt, sub.TrialEnd, sub.Livemode, metadata, sub.CreatedAt).
		Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// UpsertCustomer stores a processor customer. An existing subscriber link is preserved.
func (m *PostgresMirror) UpsertCustomer(ctx context.Context, customer *Customer) (err error) {
	defer m.observe("customer.upsert", time.Now(), &err)

	query := `
		INSERT INTO billing_customers (id, subscriber_id, email, currency, livemode, default_payment_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			subscriber_id = COALESCE(EXCLUDED.subscriber_id, billing_customers.subscriber_id),
			email = EXCLUDED.email,
			currency = EXCLUDED.currency,
			livemode = EXCLUDED.livemode,
			default_payment_method = EXCLUDED.default_payment_method
	`
	_, err = m.db.ExecContext(ctx, query, customer.ID, customer.SubscriberID, customer.Email, customer.Currency,
		customer.Livemode, customer.DefaultPaymentMethod, customer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// UpsertPaymentMethod stores a processor payment method
func (m *PostgresMirror) UpsertPaymentMethod(ctx context.Context, pm *PaymentMethod) (err error) {
	defer m.observe("payment_method.upsert", time.Now(), &err)

	query := `
		INSERT INTO billing_payment_methods (id, customer_id, type, card_brand, card_last4, card_exp_month, card_exp_year, billing_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			type = EXCLUDED.type,
			card_brand = EXCLUDED.card_brand,
			card_last4 = EXCLUDED.card_last4,
			card_exp_month = EXCLUDED.card_exp_month,
			card_exp_year = EXCLUDED.card_exp_year,
			billing_email = EXCLUDED.billing_email
	`
	_, err = m.db.ExecContext(ctx, query, pm.ID, pm.CustomerID, pm.Type, pm.CardBrand, pm.CardLast4,
		pm.CardExpMonth, pm.CardExpYear, pm.BillingEmail, pm.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert payment method: %w", err)
	}
	return nil
}

// UpsertPlan stores a processor price as a plan
func (m *PostgresMirror) UpsertPlan(ctx context.Context, plan *Plan) (err error) {
	defer m.observe("plan.upsert", time.Now(), &err)

	query := `
		INSERT INTO billing_plans (id, product_id, nickname, amount, currency, interval, interval_count, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			nickname = EXCLUDED.nickname,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			interval = EXCLUDED.interval,
			interval_count = EXCLUDED.interval_count,
			active = EXCLUDED.active
	`
	_, err = m.db.ExecContext(ctx, query, plan.ID, plan.ProductID, plan.Nickname, plan.Amount, plan.Currency,
		plan.Interval, plan.IntervalCount, plan.Active, plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

func (m *PostgresMirror) observe(operation string, start time.Time, err *error) {
	m.metrics.ObserveMirrorOperation(operation, start, *err)
}
