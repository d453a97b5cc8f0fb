package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/schoolbilling/pkg/audit"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
	"github.com/platinummonkey/schoolbilling/pkg/schools"
)

// ReconcilerConfig configures the mirror reconciler
type ReconcilerConfig struct {
	// Schedule is a standard five-field cron expression
	Schedule    string
	Concurrency int
	// Timeout bounds a single run
	Timeout time.Duration
}

// Reconciler re-fetches every processor-backed subscription linked to a school and applies
// it to the mirror. It repairs links left stale when a processor change succeeded and the
// local write did not.
type Reconciler struct {
	schools   schools.Service
	mirror    Mirror
	processor Processor
	audit     audit.Logger
	logger    *logrus.Logger
	metrics   *observability.Metrics
	config    ReconcilerConfig

	mu   sync.Mutex
	cron *cron.Cron

	lastMu     sync.RWMutex
	lastRun    time.Time
	lastSynced int
	lastErr    error
}

// NewReconciler creates a new Reconciler
func NewReconciler(
	schoolService schools.Service,
	mirror Mirror,
	processor Processor,
	auditLogger audit.Logger,
	logger *logrus.Logger,
	metrics *observability.Metrics,
	config ReconcilerConfig,
) *Reconciler {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{
		schools:   schoolService,
		mirror:    mirror,
		processor: processor,
		audit:     auditLogger,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// RunOnce reconciles every linked subscription and returns how many were applied.
// A failing school does not stop the others; failures are joined into the returned error.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	linked, err := r.schools.ListSubscribedSchools(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list subscribed schools: %w", err)
		r.finish(0, err)
		return 0, err
	}

	var (
		mu     sync.Mutex
		synced int
		errs   []error
	)

	g := new(errgroup.Group)
	g.SetLimit(r.config.Concurrency)

	for _, school := range linked {
		school := school
		if !school.HasSubscription() || IsLocalSubscriptionID(*school.SubscriptionID) {
			continue
		}
		g.Go(func() error {
			err := r.syncSchool(ctx, school)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				synced++
			}
			return nil
		})
	}
	_ = g.Wait()

	err = errors.Join(errs...)
	r.finish(synced, err)
	return synced, err
}

func (r *Reconciler) finish(synced int, err error) {
	r.metrics.ObserveReconcile(synced, err)

	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	r.lastRun = time.Now()
	r.lastSynced = synced
	r.lastErr = err
}

// Health reports the outcome of the most recent run. It has the shape of
// observability.CheckFunc.
func (r *Reconciler) Health(context.Context) observability.DependencyStatus {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()

	if r.lastRun.IsZero() {
		return observability.DependencyStatus{
			Status:    observability.StatusHealthy,
			Message:   "no run yet",
			Timestamp: time.Now(),
		}
	}

	status := observability.DependencyStatus{
		Status:    observability.StatusHealthy,
		Message:   fmt.Sprintf("synced %d subscriptions", r.lastSynced),
		Timestamp: r.lastRun,
	}
	if r.lastErr != nil {
		status.Status = observability.StatusDegraded
		status.Message = r.lastErr.Error()
	}
	return status
}

func (r *Reconciler) syncSchool(ctx context.Context, school *schools.School) (err error) {
	subID := *school.SubscriptionID
	defer func() {
		if rec := recover(); rec != nil {
			err = observability.MustRecover(rec)
			r.logger.WithField("school_id", school.ID).WithError(err).Error("panic while reconciling school")
		}
		r.record(ctx, school, subID, err)
	}()

	remote, err := r.processor.RetrieveSubscription(ctx, subID)
	if err != nil {
		return fmt.Errorf("school %d: %w", school.ID, err)
	}
	if err := r.mirror.ApplyRemoteSubscription(ctx, school.ID, SubscriptionFromStripe(remote)); err != nil {
		return fmt.Errorf("school %d: %w", school.ID, err)
	}
	return nil
}

func (r *Reconciler) record(ctx context.Context, school *schools.School, subID string, cause error) {
	status := audit.EventStatusSuccess
	if cause != nil {
		status = audit.EventStatusFailure
	}
	event := audit.NewEvent(ctx, audit.EventTypeSubscriptionSync, status)
	event.ResourceType = audit.ResourceTypeSchool
	event.ResourceID = school.Slug
	event.Message = "reconciled subscription from processor"
	event.Metadata["school_id"] = school.ID
	event.Metadata["subscription_id"] = subID
	if cause != nil {
		event.ErrorMessage = cause.Error()
	}
	if err := r.audit.Log(ctx, event); err != nil {
		r.metrics.ObserveAuditFailure()
		r.logger.WithError(err).Warn("failed to record audit event")
	}
}

// Start schedules RunOnce on the configured cron expression
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	c := cron.New()
	_, err := c.AddFunc(r.config.Schedule, func() {
		defer observability.RecoverPanic(r.logger, "reconciler")

		ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
		defer cancel()

		start := time.Now()
		synced, err := r.RunOnce(ctx)
		entry := r.logger.WithFields(logrus.Fields{
			"synced":   synced,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Warn("reconcile run finished with errors")
			return
		}
		entry.Info("reconcile run completed")
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.config.Schedule, err)
	}

	c.Start()
	r.cron = c
	r.logger.WithField("schedule", r.config.Schedule).Info("reconciler started")
	return nil
}

// Stop halts scheduling and waits for a running job or ctx, whichever ends first
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
