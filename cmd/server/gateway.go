package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"chart-gateway/internal/config"
	"chart-gateway/internal/database"
	"chart-gateway/internal/database/metadata"
	"chart-gateway/internal/middleware"
	"chart-gateway/internal/repository"
	"chart-gateway/internal/security"
	"chart-gateway/internal/service"
	"chart-gateway/internal/utils"
)

const healthCheckInterval = time.Minute

// gateway holds the long-lived components shared by every command
type gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *gorm.DB
	pool        *database.ConnectionPool
	schema      *metadata.SchemaCache
	tokens      *security.TokenManager
	checker     *database.HealthChecker
	charts      service.ChartService
	dataSources service.DataSourceService
	typeMapper  *utils.DataTypeMapper
}

func newGateway(cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	middleware.InitMetrics()

	gw := &gateway{
		cfg:        cfg,
		logger:     logger,
		typeMapper: utils.NewDataTypeMapper(),
	}

	var (
		resolver database.SourceResolver = database.NewStaticSources(cfg.StaticDataSources()...)
		repo     repository.DataSourceRepository
	)
	if cfg.Database.Enabled {
		db, err := config.InitDatabase(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		gw.db = db
		repo = repository.NewDataSourceRepository(db)
		// sources in the config file shadow registered ones of the same name
		resolver = database.ChainSources{resolver, database.NewRepositorySources(repo)}
	}

	var vault *security.CredentialVault
	if cfg.Security.VaultKey != "" {
		v, err := security.NewCredentialVaultFromBase64(cfg.Security.VaultKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential vault: %w", err)
		}
		vault = v
	}

	iam := security.NewRDSIAMAuthenticator(cfg.Security.AWS)
	credentials := security.NewCredentialResolver(vault, iam)

	gw.pool = database.NewConnectionPool(resolver, database.PoolOptions{
		MaxPoolSize:    cfg.Pool.MaxSize,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		Passwords:      credentials,
		Logger:         logger,
	})

	// an expiring IAM token recycles the pool so new connections sign a fresh one
	gw.tokens = security.NewTokenManager(func(ctx context.Context, source string) error {
		iam.Invalidate()
		return gw.pool.CloseSource(source)
	}, logger)
	credentials.WithRotation(gw.tokens)

	gw.schema = metadata.NewSchemaCache(metadata.NewColumnExtractor(gw.pool), metadata.CacheOptions{
		TTL:             cfg.Schema.CacheTTL,
		LookupTimeout:   cfg.Schema.LookupTimeout,
		CleanupInterval: cfg.Schema.CleanupInterval,
		Logger:          logger,
	})

	gw.charts = service.NewChartService(service.ChartServiceOptions{
		Schema:        gw.schema,
		Executor:      service.NewExecutor(gw.pool, cfg.Engine.StatementTimeout, logger),
		Guard:         security.NewSQLValidator(cfg.Engine.MaxStatementLength),
		Collector:     service.NewMetricsCollector(),
		MaxLimit:      cfg.Engine.MaxLimit,
		DefaultSource: cfg.Engine.DefaultDataSource,
		Logger:        logger,
	})

	gw.checker = database.NewHealthChecker(gw.pool)

	if repo != nil {
		opts := service.DataSourceServiceOptions{
			Repo:    repo,
			Checker: gw.checker,
			Pool:    gw.pool,
			Schema:  gw.schema,
			Logger:  logger,
		}
		if vault != nil {
			opts.Sealer = vault
		}
		gw.dataSources = service.NewDataSourceService(opts)
	}

	return gw, nil
}

// Start launches the background loops; they end when ctx is done or on Close
func (gw *gateway) Start(ctx context.Context) {
	go gw.schema.Start(ctx)
	go gw.tokens.Start(ctx)

	go func() {
		for summary := range gw.checker.PeriodicHealthCheck(ctx, healthCheckInterval) {
			if summary.UnhealthySources > 0 {
				gw.logger.Warn("data source health check",
					"healthy", summary.HealthySources,
					"unhealthy", summary.UnhealthySources,
				)
			}
		}
	}()
}

// Close stops background work and closes every connection
func (gw *gateway) Close() {
	gw.schema.Stop()
	gw.tokens.Stop()

	if err := gw.pool.CloseAll(); err != nil {
		gw.logger.Warn("failed to close data source pools", "error", err)
	}

	if gw.db != nil {
		if sqlDB, err := gw.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
