package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/schoolbilling/pkg/audit"
	"github.com/platinummonkey/schoolbilling/pkg/billing"
	"github.com/platinummonkey/schoolbilling/pkg/config"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
	"github.com/platinummonkey/schoolbilling/pkg/schools"
	"github.com/platinummonkey/schoolbilling/pkg/storage/postgres"
)

// loadConfig is replaced in tests
var loadConfig = config.LoadConfig

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	level, err := observability.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, err
	}
	return observability.NewLogger(level, observability.LogFormat(cfg.Observability.LogFormat), os.Stderr), nil
}

// setup loads configuration and opens the database every command needs
func setup(ctx context.Context) (*config.Config, *logrus.Logger, *postgres.ConnectionManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	cm, err := postgres.NewConnectionManager(cfg.ConnectionConfig(), logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		applied, err := postgres.Migrate(ctx, cm.Primary())
		if err != nil {
			cm.Close()
			return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		if len(applied) > 0 {
			logger.WithField("migrations", applied).Info("applied database migrations")
		}
	}

	return cfg, logger, cm, nil
}

// billingStack is the processor-backed part of the service
type billingStack struct {
	schools   schools.Service
	mirror    billing.Mirror
	processor billing.Processor
	audit     audit.Logger
	redis     *postgres.RedisClient
}

func newBillingStack(ctx context.Context, cfg *config.Config, logger *logrus.Logger, cm *postgres.ConnectionManager, metrics *observability.Metrics) (*billingStack, error) {
	db := cm.Primary()

	processor, err := billing.NewStripeProcessor(cfg.StripeProcessorConfig(), logger, metrics)
	if err != nil {
		return nil, err
	}

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, err
	}

	stack := &billingStack{
		schools:   schools.NewPostgresService(db),
		mirror:    billing.NewPostgresMirror(db, metrics),
		processor: processor,
		audit:     audit.NewMultiLogger(dbAudit, audit.NewLogrusLogger(logger)),
	}

	if cfg.Redis.URL != "" {
		rc, err := postgres.NewRedisClient(ctx, cfg.RedisClientConfig())
		if err != nil {
			// plans are read from Postgres when the cache is unavailable
			logger.WithError(err).Warn("plan cache disabled")
		} else {
			stack.redis = rc
			stack.mirror = billing.NewCachedMirror(stack.mirror, rc, cfg.Redis.PlanCacheTTL, logger, metrics)
		}
	}

	return stack, nil
}

func (s *billingStack) redisClient() *redis.Client {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client()
}

func (s *billingStack) Close() error {
	err := s.audit.Close()
	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
