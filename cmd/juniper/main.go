package main

import (
	"context"
	"errors"
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
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/juniper/config"
	"github.com/Ramsey-B/juniper/internal/repositories/personcluster"
	"github.com/Ramsey-B/juniper/internal/repositories/personrecord"
	"github.com/Ramsey-B/juniper/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/juniper/pkg/database"
	"github.com/Ramsey-B/juniper/pkg/events"
	"github.com/Ramsey-B/juniper/pkg/graph"
	"github.com/Ramsey-B/juniper/pkg/kafka"
	"github.com/Ramsey-B/juniper/pkg/lookup"
	"github.com/Ramsey-B/juniper/pkg/middleware"
	"github.com/Ramsey-B/juniper/pkg/processor"
	redispkg "github.com/Ramsey-B/juniper/pkg/redis"
	"github.com/Ramsey-B/juniper/pkg/resolver"
	"github.com/Ramsey-B/juniper/pkg/routes/clusters"
	"github.com/Ramsey-B/juniper/pkg/routes/health"
	"github.com/Ramsey-B/juniper/pkg/routes/records"
	runroutes "github.com/Ramsey-B/juniper/pkg/routes/runs"
	"github.com/Ramsey-B/juniper/pkg/runs"
	"github.com/Ramsey-B/juniper/pkg/scheduler"
	"github.com/Ramsey-B/juniper/pkg/scoring"
	"github.com/Ramsey-B/juniper/pkg/startup"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "juniper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	ctx := context.Background()
	logger.WithFields(map[string]any{
		"app":     cfg.AppName,
		"version": version,
		"port":    cfg.Port,
	}).Info("Starting juniper")

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Endpoint:    cfg.TracingEndpoint,
		Protocol:    cfg.TracingProtocol,
		Insecure:    cfg.TracingInsecure,
		Enabled:     cfg.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to shut down tracing")
		}
	}()

	manager := startup.NewManager(logger, cfg.StartupMaxAttempts)

	var db database.DB
	manager.Add(startup.Func{
		DepName: "postgres",
		StartFn: func(ctx context.Context) error {
			var err error
			db, err = database.Connect(ctx, database.Config{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				UserName:        cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}

			migrations := database.NewMigrationService(logger, database.MigrationConfig{
				FolderPath: cfg.DatabaseMigrationFolderPath,
				Version:    uint(cfg.DatabaseMigrationVersion),
				Force:      cfg.DatabaseMigrationForce,
			})
			return migrations.Migrate(cfg.DatabaseName, db)
		},
		StopFn: func(ctx context.Context) error {
			return db.Close()
		},
	})

	var redisClient *redispkg.Client
	manager.Add(startup.Func{
		DepName: "redis",
		StartFn: func(ctx context.Context) error {
			var err error
			redisClient, err = redispkg.NewClient(redispkg.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			return err
		},
		StopFn: func(ctx context.Context) error {
			return redisClient.Close()
		},
	})

	var graphClient *graph.Client
	if cfg.GraphDBEnabled {
		manager.Add(startup.Func{
			DepName: "graph",
			StartFn: func(ctx context.Context) error {
				var err error
				graphClient, err = graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, logger)
				return err
			},
			StopFn: func(ctx context.Context) error {
				return graphClient.Close(ctx)
			},
		})
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("Failed to stop dependencies cleanly")
		}
	}()

	recordRepo := personrecord.NewRepository(db, logger)
	clusterRepo := personcluster.NewRepository(db, logger)
	runRepo := resolutionrun.NewRepository(db, logger)

	res, err := resolver.New(logger, resolverConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build resolver: %w", err)
	}

	locker := redispkg.NewLocker(redisClient, cfg.AppName)
	searchCache := redispkg.NewVersionedCache(
		redispkg.NewCache(redisClient, "juniper:search", cfg.SearchCacheTTL),
		"juniper:search:version",
	)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer func() {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close kafka producer")
		}
	}()
	emitter := events.NewEmitter(producer, logger)

	lookupSvc := lookup.NewService()

	var personGraph *graph.PersonService
	var queryGraph *graph.QueryService
	if graphClient != nil {
		personGraph = graph.NewPersonService(graphClient, logger)
		queryGraph = graph.NewQueryService(graphClient, logger)
	}

	runSvc := runs.NewService(logger, cfg, res, recordRepo, clusterRepo, runRepo, locker, lookupSvc, emitter, personGraph, searchCache)

	if err := registerDependencies(cfg, logger, db, recordRepo, clusterRepo, runRepo, runSvc, searchCache, queryGraph); err != nil {
		return fmt.Errorf("failed to register dependencies: %w", err)
	}

	if err := runSvc.WarmLookup(ctx); err != nil {
		logger.WithError(err).Warn("Failed to warm lookup snapshot, continuing with empty snapshot")
	}

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		proc := processor.NewProcessor(logger, recordRepo, validator.New())
		consumer = kafka.NewConsumer(cfg, logger, proc.ProcessMessage)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
	}

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.NewScheduler(recordRepo, runSvc, scheduler.Config{
			PollInterval: cfg.SchedulerPollInterval,
			MinBatch:     cfg.SchedulerMinBatch,
		}, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	checker := health.NewChecker(db, redisClient, graphClient, version)
	e := newServer(cfg, logger, checker)

	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	checker.SetReady(true)
	logger.Infof("Juniper listening on port %d", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-quit:
		logger.Infof("Received signal %s, shutting down", sig)
	}

	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to stop scheduler cleanly")
		}
	}
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop kafka consumer cleanly")
		}
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to shut down http server cleanly")
	}

	logger.Info("Shutdown complete")
	return nil
}

func newLogger(cfg config.Config) (ectologger.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = level

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func resolverConfig(cfg config.Config) resolver.Config {
	return resolver.Config{
		MatchThreshold: cfg.MatchThreshold,
		FieldWeights: map[string]float64{
			scoring.FieldFullName:     cfg.WeightFullName,
			scoring.FieldRelativeName: cfg.WeightRelativeName,
			scoring.FieldRelationType: cfg.WeightRelationType,
			scoring.FieldGender:       cfg.WeightGender,
			scoring.FieldAge:          cfg.WeightAge,
			scoring.FieldLocation:     cfg.WeightLocation,
			scoring.FieldPhone:        cfg.WeightPhone,
		},
		TierBaseWeights:     [5]float64{cfg.TierWeight1, cfg.TierWeight2, cfg.TierWeight3, cfg.TierWeight4, cfg.TierWeight5},
		SingletonConfidence: cfg.SingletonConfidence,
		FuzzyWorkers:        cfg.FuzzyWorkerCount,
	}
}

// registerDependencies populates the default DI container that route handlers
// resolve from per request.
func registerDependencies(
	cfg config.Config,
	logger ectologger.Logger,
	db database.DB,
	recordRepo *personrecord.Repository,
	clusterRepo *personcluster.Repository,
	runRepo *resolutionrun.Repository,
	runSvc *runs.Service,
	searchCache *redispkg.VersionedCache,
	queryGraph *graph.QueryService,
) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}

	if err := ectoinject.RegisterInstance[config.Config](container, cfg); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*personrecord.Repository](container, recordRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*personcluster.Repository](container, clusterRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*resolutionrun.Repository](container, runRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*runs.Service](container, runSvc); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*redispkg.VersionedCache](container, searchCache); err != nil {
		return err
	}
	if queryGraph != nil {
		if err := ectoinject.RegisterInstance[*graph.QueryService](container, queryGraph); err != nil {
			return err
		}
	}
	return nil
}

func newServer(cfg config.Config, logger ectologger.Logger, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(echomiddleware.Recover())

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	records.Register(api.Group("/records"))
	runroutes.Register(api.Group("/runs"))
	clusters.Register(api.Group("/clusters"))

	return e
}
