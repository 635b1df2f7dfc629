// Package main provides the main entry point for the Evoteli property intelligence service
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/evoteli/app/handlers"
	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/app/middleware"
	"github.com/amirphl/evoteli/app/router"
	"github.com/amirphl/evoteli/app/scheduler"
	"github.com/amirphl/evoteli/app/services"
	businessflow "github.com/amirphl/evoteli/business_flow"
	"github.com/amirphl/evoteli/config"
	"github.com/amirphl/evoteli/migrations"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	stopFuncs []func()
}

func main() {
	log.Println("Starting Evoteli application...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	if err := app.router.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	// Stop background workers in reverse start order
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NowFunc: utils.UTCNow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := migrations.Up(ctx, sqlDB); err != nil {
			return nil, err
		}
		log.Println("Database migrations applied")
	}

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity.
// A disabled cache yields a nil client and in-process fallbacks.
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to surface connectivity issues
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeDispatcher wires the job pool behind either an in-process queue or RabbitMQ
func initializeDispatcher(ctx context.Context, cfg *config.ProductionConfig, pool *jobs.Pool, logger *log.Logger) (jobs.Dispatcher, []func(), error) {
	if cfg.Queue.Backend != "rabbitmq" {
		pool.Start(ctx)
		return pool, []func(){pool.Stop}, nil
	}

	queueCfg := cfg.Queue
	queueCfg.Prefetch = max(queueCfg.Prefetch, cfg.Scheduler.Workers)
	queue, err := jobs.NewRabbitMQQueue(queueCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	consumeCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := queue.Consume(consumeCtx, cfg.Scheduler.Workers, pool.Run); err != nil {
			logger.Printf("jobs: rabbitmq consumer stopped: %v", err)
		}
	}()
	stop := func() {
		cancel()
		<-done
		if err := queue.Close(); err != nil {
			logger.Printf("jobs: rabbitmq close failed: %v", err)
		}
	}
	return queue, []func(){stop}, nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()
	rootCtx, rootCancel := context.WithCancel(context.Background())
	stopFuncs = append(stopFuncs, rootCancel)

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(rootCtx, rc, 30*time.Second))
	}

	schedLogger, logCloser := scheduler.NewLogger(cfg.Logging)
	stopFuncs = append(stopFuncs, func() { closeQuietly(logCloser) })

	// Repositories
	propertyRepo := repository.NewPropertyRepository(db)
	contactRepo := repository.NewPropertyContactRepository(db)
	searchRepo := repository.NewSavedSearchRepository(db)
	alertRepo := repository.NewSearchAlertRepository(db)
	accountRepo := repository.NewAdsAccountRepository(db)
	audienceRepo := repository.NewAudienceRepository(db)
	recordRepo := repository.NewAudienceSyncRecordRepository(db)

	// Services
	tokenService, err := services.NewTokenService(utils.AccessTokenTTL, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	sealer, err := services.NewTokenSealer(cfg.Security.TokenSealingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token sealer: %w", err)
	}
	platform := services.NewAdsPlatformClient(cfg.GoogleAds)
	notifier := services.NewNotificationService(services.NewEmailGateway(cfg.Email), cfg.Email)
	contacts := services.NewRepositoryContactSource(contactRepo)
	reports := services.NewReportService()

	var states services.OAuthStateStore
	var locker jobs.Locker
	if rc != nil {
		states = services.NewRedisOAuthStateStore(rc, cfg.Cache.RedisPrefix, cfg.GoogleAds.OAuthStateTTL)
		locker = jobs.NewRedisLocker(rc, cfg.Cache.RedisPrefix)
	} else {
		states = services.NewMemoryOAuthStateStore(cfg.GoogleAds.OAuthStateTTL)
		locker = jobs.NewMemoryLocker()
	}

	// Background processing
	txRunner := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return repository.WithTransaction(ctx, db, fn)
	}
	alerts := scheduler.NewAlertProcessor(propertyRepo, searchRepo, alertRepo, notifier, txRunner, schedLogger, cfg.Scheduler.AlertMatchCap)
	orchestrator := scheduler.NewAudienceSyncOrchestrator(
		audienceRepo, accountRepo, recordRepo, propertyRepo, contacts, platform, sealer,
		scheduler.SyncConfig{
			BatchSize:     cfg.GoogleAds.UploadBatchSize,
			MaxProperties: cfg.GoogleAds.MaxProperties,
			SettleDelay:   cfg.GoogleAds.SettleDelay,
			StaleAfter:    cfg.Scheduler.StaleSyncAfter,
		},
		schedLogger,
	)

	pool := jobs.NewPool(jobs.PoolConfig{
		Workers:    cfg.Scheduler.Workers,
		JobTimeout: cfg.Scheduler.JobTimeout,
		BufferSize: cfg.Queue.BufferSize,
	}, locker, schedLogger)
	pool.Handle(jobs.KindAlertEvaluate, alerts.HandleEvaluate)
	pool.Handle(jobs.KindAlertTest, alerts.HandleTestAlert)
	pool.Handle(jobs.KindAudienceSync, orchestrator.HandleSync)
	pool.OnSkip(jobs.KindAudienceSync, orchestrator.HandleSkippedSync)

	dispatcher, dispatcherStops, err := initializeDispatcher(rootCtx, cfg, pool, schedLogger)
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, dispatcherStops...)

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(searchRepo, audienceRepo, recordRepo, dispatcher, alerts, orchestrator, cfg.Scheduler, schedLogger)
		stopScheduler, err := sched.Start(rootCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
		stopFuncs = append(stopFuncs, stopScheduler)
	}

	// Business flows
	savedSearchFlow := businessflow.NewSavedSearchFlow(searchRepo, alertRepo, dispatcher, reports)
	adsAccountFlow := businessflow.NewAdsAccountFlow(accountRepo, audienceRepo, recordRepo, platform, states, sealer)
	audienceFlow := businessflow.NewAudienceFlow(audienceRepo, accountRepo, recordRepo, orchestrator, dispatcher, reports)
	propertySearchFlow := businessflow.NewPropertySearchFlow(propertyRepo)

	// HTTP
	authMiddleware := middleware.NewAuthMiddleware(tokenService)
	appRouter := router.NewFiberRouter(cfg, authMiddleware, router.Handlers{
		SavedSearches: handlers.NewSavedSearchHandler(savedSearchFlow),
		Audiences:     handlers.NewAudienceHandler(audienceFlow),
		AdsAccounts:   handlers.NewAdsAccountHandler(adsAccountFlow),
		Properties:    handlers.NewPropertyHandler(propertySearchFlow),
	})

	if rc != nil {
		stopFuncs = append([]func(){func() { closeQuietly(rc) }}, stopFuncs...)
	}
	if sqlDB, err := db.DB(); err == nil {
		stopFuncs = append([]func(){func() { closeQuietly(sqlDB) }}, stopFuncs...)
	}

	return &Application{
		router:    appRouter,
		config:    cfg,
		stopFuncs: stopFuncs,
	}, nil
}

func closeQuietly(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Printf("close failed: %v", err)
	}
}
