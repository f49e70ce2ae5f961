package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/upb/llm-relay/config"
	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/repositories"
	"github.com/upb/llm-relay/repositories/postgres"
	"github.com/upb/llm-relay/services/accounts"
	"github.com/upb/llm-relay/services/availability"
	"github.com/upb/llm-relay/services/groups"
	"github.com/upb/llm-relay/services/modelgate"
	"github.com/upb/llm-relay/services/scheduler"
	"github.com/upb/llm-relay/services/sessions"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger
	Redis  *goredis.Client

	// Repositories
	Accounts  repositories.AccountRepository
	Groups    repositories.GroupRepository
	TxManager repositories.TransactionManager

	// Scheduler core
	Registry  *accounts.Registry
	Sessions  sessions.Store
	Scheduler *scheduler.Service
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initRedis(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	deps.initScheduler(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.TxManager = postgres.NewTransactionManager(d.DB, d.Logger)
	d.Accounts = postgres.NewAccountRepository(d.DB, d.Logger)
	d.Groups = postgres.NewGroupRepository(d.DB, d.TxManager, d.Logger)

	d.Logger.Info("repositories initialized")
}

// initRedis connects the shared Redis client when enabled. A disabled Redis
// leaves d.Redis nil and the scheduler falls back to in-memory stores, which
// is only correct for single-instance deployments.
func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) error {
	if !cfg.Redis.Enabled {
		d.Logger.Warn("redis disabled, using in-memory session and availability stores")
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.Redis = client
	d.Logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	return nil
}

// initScheduler wires the account directories, session store, model gate, and
// the scheduler core on top of them.
func (d *Dependencies) initScheduler(cfg *config.Config) {
	var (
		tracker availability.Tracker
		counter availability.ConcurrencyCounter
		store   sessions.Store
	)
	if d.Redis != nil {
		tracker = availability.NewRedisTracker(d.Redis,
			availability.WithTrackerKeyPrefix(cfg.Redis.KeyPrefix+"avail:"))
		counter = availability.NewRedisCounter(d.Redis, cfg.Redis.KeyPrefix+"concurrency:")
		store = sessions.NewRedisStore(d.Redis,
			sessions.WithKeyPrefix(cfg.Redis.KeyPrefix+"session:"))
	} else {
		tracker = availability.NewMemoryTracker()
		counter = availability.NewMemoryCounter()
		store = sessions.NewMemoryStore()
	}
	d.Sessions = store

	durations := accounts.Durations{
		RateLimit:       cfg.Scheduler.RateLimitTTL,
		TempUnavailable: cfg.Scheduler.TempUnavailableTTL,
		Quota:           cfg.Scheduler.QuotaTTL,
	}

	registry := accounts.NewRegistry(d.Logger)
	for _, accountType := range models.AllAccountTypes {
		registry.Register(accounts.NewStoreDirectory(
			accountType, d.Accounts, tracker, counter, durations, d.Logger))
	}
	d.Registry = registry

	gate := modelgate.NewGate(modelgate.DefaultGateConfig())
	resolver := groups.NewStoreResolver(d.Groups)

	d.Scheduler = scheduler.NewService(scheduler.Config{
		SessionTTL:        cfg.Scheduler.SessionTTL,
		RenewalThreshold:  cfg.Scheduler.SessionRenewalThreshold,
		VendorModelPrefix: cfg.Scheduler.VendorModelPrefix,
	}, registry, resolver, store, gate, d.Logger)

	d.Logger.Info("scheduler initialized",
		zap.Int("directories", registry.Count()),
		zap.Duration("session_ttl", cfg.Scheduler.SessionTTL))
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
