package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/ahg-archives/bramble/config"
	detectionrepo "github.com/ahg-archives/bramble/internal/repositories/detection"
	mergelogrepo "github.com/ahg-archives/bramble/internal/repositories/mergelog"
	recordrepo "github.com/ahg-archives/bramble/internal/repositories/record"
	rulerepo "github.com/ahg-archives/bramble/internal/repositories/rule"
	scanjobrepo "github.com/ahg-archives/bramble/internal/repositories/scanjob"
	"github.com/ahg-archives/bramble/pkg/database"
	"github.com/ahg-archives/bramble/pkg/events"
	"github.com/ahg-archives/bramble/pkg/kafka"
	"github.com/ahg-archives/bramble/pkg/merging"
	"github.com/ahg-archives/bramble/pkg/middleware"
	"github.com/ahg-archives/bramble/pkg/realtime"
	checkroutes "github.com/ahg-archives/bramble/pkg/routes/check"
	detectionroutes "github.com/ahg-archives/bramble/pkg/routes/detection"
	"github.com/ahg-archives/bramble/pkg/routes/health"
	mergeroutes "github.com/ahg-archives/bramble/pkg/routes/merge"
	ruleroutes "github.com/ahg-archives/bramble/pkg/routes/rule"
	scanroutes "github.com/ahg-archives/bramble/pkg/routes/scan"
	"github.com/ahg-archives/bramble/pkg/rules"
	"github.com/ahg-archives/bramble/pkg/scanner"
	"github.com/ahg-archives/bramble/pkg/scoring"
	"github.com/ahg-archives/bramble/pkg/startup"
	"github.com/ahg-archives/bramble/pkg/tracing"
	"github.com/ahg-archives/bramble/pkg/tracing/exporters"
	"github.com/ahg-archives/bramble/pkg/worker"
)

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger := newLogger(cfg)

	shutdownTracing := initTracing(cfg, logger)

	db, sqlxDB := connectDatabase(cfg, logger)
	runMigrations(cfg, logger, sqlxDB)

	// Repositories
	ruleRepo := rulerepo.NewRepository(db, logger)
	detectionRepo := detectionrepo.NewRepository(db, logger)
	scanRepo := scanjobrepo.NewRepository(db, logger)
	mergeLogRepo := mergelogrepo.NewRepository(db, logger)
	recordRepo := recordrepo.NewRepository(db, logger, cfg.CatalogCulture)

	// Eventing
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaEventsTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
	}
	emitter := events.NewEmitter(producer, logger)

	// Services
	scorer := scoring.NewScorer()
	engine := rules.NewEngine(logger, ruleRepo, recordRepo, rules.DefaultMatchers(recordRepo, scorer))
	checker := realtime.NewChecker(logger, recordRepo, scorer, realtime.Config{
		MinQueryLength: cfg.RealtimeMinQueryLength,
		CandidateLimit: cfg.RealtimeCandidateLimit,
		MinScore:       cfg.RealtimeMinScore,
		MaxResults:     cfg.RealtimeMaxResults,
	})
	batchScanner := scanner.NewScanner(logger, scanRepo, detectionRepo, recordRepo, engine, emitter, scanner.Config{
		Workers:         cfg.ScanWorkerCount,
		PageSize:        cfg.ScanPageSize,
		CheckpointEvery: cfg.ScanCheckpointEvery,
		StoreThreshold:  cfg.ScanStoreThreshold,
		JobTimeout:      cfg.ScanJobTimeout,
	})
	coordinator := merging.NewCoordinator(logger, db, detectionRepo, mergeLogRepo, recordRepo, recordRepo, merging.NoopPolicy{}, emitter)

	var scanProducer *kafka.Producer
	if producer != nil && cfg.KafkaWorkerEnabled {
		scanProducer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaScanTopic,
			BatchSize:    1,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
	}
	dispatcher := worker.NewDispatcher(logger, scanProducer, batchScanner)

	registerDependencies(cfg, logger, db, ruleRepo, detectionRepo, scanRepo, mergeLogRepo, recordRepo, engine, checker, batchScanner, coordinator, dispatcher, emitter)

	// Background dependencies
	manager := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	manager.AddDependency(&databaseDependency{db: db})
	var scanWorker *worker.ScanWorker
	if scanProducer != nil {
		scanWorker = worker.NewScanWorker(logger, kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaScanTopic,
			ConsumerGroup: cfg.KafkaScanConsumerGroup,
		}, batchScanner)
		manager.AddDependency(scanWorker)
	}

	ctx := context.Background()
	if err := manager.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start dependencies")
		os.Exit(1)
	}

	redispatchStaleScans(ctx, cfg, logger, scanRepo, dispatcher)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.HTTPErrorHandler = middleware.Error(logger)

	var workerHealth interface{ Health() bool }
	if scanWorker != nil {
		workerHealth = scanWorker
	}
	healthChecker := health.NewChecker(db, workerHealth, os.Getenv("APP_VERSION"))
	healthChecker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	ruleroutes.Register(api.Group("/rules"))
	detectionroutes.Register(api.Group("/detections"))
	scanroutes.Register(api.Group("/scans"))
	checkroutes.Register(api.Group("/check"))
	mergeroutes.Register(api.Group("/merge"))

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
		e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
		e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
		e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
		e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped")
			os.Exit(1)
		}
	}()
	healthChecker.SetReady(true)

	logger.WithFields(map[string]any{"port": cfg.Port}).Info("Bramble started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	healthChecker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop dependencies")
	}
	if producer != nil {
		_ = producer.Close()
	}
	if scanProducer != nil {
		_ = scanProducer.Close()
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func initTracing(cfg config.Config, logger ectologger.Logger) func(context.Context) error {
	var exp sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if cfg.TracingEnabled {
		otlpExp, err := exporters.NewOTLPExporter(context.Background(), exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to create OTLP exporter, tracing disabled")
		} else {
			exp = otlpExp
		}
	}
	return tracing.InitProvider(cfg.AppName, exp)
}

func connectDatabase(cfg config.Config, logger ectologger.Logger) (database.DB, *sqlx.DB) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)

	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}

	db := database.NewDatabaseInstance(sqlxDB, logger)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	return db, sqlxDB
}

func runMigrations(cfg config.Config, logger ectologger.Logger, sqlxDB *sqlx.DB) {
	driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	if err != nil {
		logger.WithError(err).Error("Failed to create migration driver")
		os.Exit(1)
	}

	service := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})

	if err := service.Migrate(cfg.DatabaseName, driver); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}
}

// redispatchStaleScans hands scans a crashed process left running back to a
// worker; RunScan resumes them from their last checkpoint.
func redispatchStaleScans(ctx context.Context, cfg config.Config, logger ectologger.Logger, scanRepo *scanjobrepo.Repository, dispatcher *worker.Dispatcher) {
	stale, err := scanRepo.FindStale(ctx, cfg.ScanStaleAfter)
	if err != nil {
		logger.WithError(err).Warn("Failed to check for stale scans")
		return
	}

	for _, job := range stale {
		if err := dispatcher.Dispatch(ctx, job.ID); err != nil {
			logger.WithError(err).WithFields(map[string]any{"scan_id": job.ID}).Warn("Failed to redispatch stale scan")
		}
	}
}

func registerDependencies(
	cfg config.Config,
	logger ectologger.Logger,
	db database.DB,
	ruleRepo *rulerepo.Repository,
	detectionRepo *detectionrepo.Repository,
	scanRepo *scanjobrepo.Repository,
	mergeLogRepo *mergelogrepo.Repository,
	recordRepo *recordrepo.Repository,
	engine *rules.Engine,
	checker *realtime.Checker,
	batchScanner *scanner.Scanner,
	coordinator *merging.Coordinator,
	dispatcher *worker.Dispatcher,
	emitter *events.Emitter,
) {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		logger.WithError(err).Error("Failed to create DI container")
		os.Exit(1)
	}

	mustRegister(logger, ectoinject.RegisterInstance[ectologger.Logger](container, logger))
	mustRegister(logger, ectoinject.RegisterInstance[database.DB](container, db))
	mustRegister(logger, ectoinject.RegisterInstance[*config.Config](container, &cfg))
	mustRegister(logger, ectoinject.RegisterInstance[*rulerepo.Repository](container, ruleRepo))
	mustRegister(logger, ectoinject.RegisterInstance[*detectionrepo.Repository](container, detectionRepo))
	mustRegister(logger, ectoinject.RegisterInstance[*scanjobrepo.Repository](container, scanRepo))
	mustRegister(logger, ectoinject.RegisterInstance[*mergelogrepo.Repository](container, mergeLogRepo))
	mustRegister(logger, ectoinject.RegisterInstance[*recordrepo.Repository](container, recordRepo))
	mustRegister(logger, ectoinject.RegisterInstance[*rules.Engine](container, engine))
	mustRegister(logger, ectoinject.RegisterInstance[*realtime.Checker](container, checker))
	mustRegister(logger, ectoinject.RegisterInstance[*scanner.Scanner](container, batchScanner))
	mustRegister(logger, ectoinject.RegisterInstance[*merging.Coordinator](container, coordinator))
	mustRegister(logger, ectoinject.RegisterInstance[*worker.Dispatcher](container, dispatcher))
	mustRegister(logger, ectoinject.RegisterInstance[*events.Emitter](container, emitter))
}

func mustRegister(logger ectologger.Logger, err error) {
	if err != nil {
		logger.WithError(err).Error("Failed to register dependency")
		os.Exit(1)
	}
}

// databaseDependency ties the connection pool into startup ordering so the
// scan worker only starts once the database answers pings.
type databaseDependency struct {
	db database.DB
}

func (d *databaseDependency) GetName() string     { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	return d.db.Close()
}
