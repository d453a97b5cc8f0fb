package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

const (
	// ActivePlansCacheKey holds the serialized active plan list
	ActivePlansCacheKey = "billing:plans:active"

	// DefaultPlanCacheTTL bounds how stale the plan list can be when no webhook invalidates it
	DefaultPlanCacheTTL = 5 * time.Minute
)

// JSONCache is a key/value cache with JSON values
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedMirror serves the active plan list from a cache and falls through to the
// wrapped Mirror for everything else. Cache errors degrade to a database read.
type CachedMirror struct {
	Mirror
	cache   JSONCache
	ttl     time.Duration
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewCachedMirror wraps mirror with a plan list cache
func NewCachedMirror(mirror Mirror, cache JSONCache, ttl time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *CachedMirror {
	if ttl <= 0 {
		ttl = DefaultPlanCacheTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedMirror{
		Mirror:  mirror,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// ListActivePlans returns the cached list, loading it on a miss
func (c *CachedMirror) ListActivePlans(ctx context.Context) ([]*Plan, error) {
	var plans []*Plan
	hit, err := c.cache.GetJSON(ctx, ActivePlansCacheKey, &plans)
	if err != nil {
		c.logger.WithError(err).Warn("plan cache read failed")
	}
	c.metrics.ObserveCache("plans", hit)
	if hit {
		return plans, nil
	}

	plans, err = c.Mirror.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetJSON(ctx, ActivePlansCacheKey, plans, c.ttl); err != nil {
		c.logger.WithError(err).Warn("plan cache write failed")
	}
	return plans, nil
}

// UpsertPlan stores the plan and drops the cached list
func (c *CachedMirror) UpsertPlan(ctx context.Context, plan *Plan) error {
	if err := c.Mirror.UpsertPlan(ctx, plan); err != nil {
		return err
	}
	return c.Invalidate(ctx)
}

// Invalidate drops the cached plan list
func (c *CachedMirror) Invalidate(ctx context.Context) error {
	if err := c.cache.Delete(ctx, ActivePlansCacheKey); err != nil {
		return fmt.Errorf("failed to invalidate plan cache: %w", err)
	}
	return nil
}
