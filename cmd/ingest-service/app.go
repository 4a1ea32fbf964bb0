package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"paystream/internal/archiver"
	"paystream/internal/config"
	"paystream/internal/connmgr"
	"paystream/internal/constants"
	"paystream/internal/deadletter"
	"paystream/internal/logger"
	"paystream/internal/parser"
	"paystream/internal/persister"
	"paystream/internal/pipeline"
	"paystream/pkg/bootstrap"
	"paystream/pkg/health"
	"paystream/pkg/logging"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
)

type App struct {
	*bootstrap.Base
	stores       *bootstrap.StoreConnector
	db           *sql.DB
	redis        *redis.Client
	objects      *minio.Client
	mgr          *connmgr.Manager
	parser       *parser.Parser
	archiver     *archiver.Archiver
	persister    *persister.Persister
	failures     *deadletter.Router
	orchestrator *pipeline.Orchestrator
	server       *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("ingest-service")
	}
	return &App{
		Base:   bootstrap.NewBase(cfg, log),
		stores: bootstrap.NewStoreConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := a.initComponents(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline components: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if a.Config.Broker.Type == "redis_stream" {
		rdb, err := a.stores.InitRedis(ctx)
		if err != nil {
			initCtx := logging.WithServiceName(ctx, "ingest-service")
			a.Logger.WarnwCtx(initCtx, "Redis health client unavailable, broker check will rely on consumer state",
				"error", err,
			)
		} else {
			a.redis = rdb
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, constants.BrokerConnectTimeout)
	defer cancel()
	for i, consumer := range a.Consumers {
		if err := consumer.Connect(connectCtx); err != nil {
			initCtx := logging.WithServiceName(ctx, "ingest-service")
			a.Logger.WarnwCtx(initCtx, "Initial broker connect failed, worker will keep retrying",
				"worker_id", i,
				"error", err,
			)
		}
	}

	a.orchestrator = pipeline.NewOrchestrator(
		a.Consumers,
		a.parser,
		a.archiver,
		a.persister,
		a.failures,
		a.Config.Pipeline,
		a.Config.Broker.Type,
		a.Logger,
	)

	metrics.RegisterPipelineMetrics()
	metrics.RegisterStoreMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

// InitializeOffline wires the stores and pipeline components without a
// broker session, for the single-payload process command.
func (a *App) InitializeOffline(ctx context.Context) error {
	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := a.initComponents(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline components: %w", err)
	}

	a.orchestrator = pipeline.NewOrchestrator(
		nil,
		a.parser,
		a.archiver,
		a.persister,
		a.failures,
		a.Config.Pipeline,
		a.Config.Broker.Type,
		a.Logger,
	)

	return nil
}

func (a *App) initStores(ctx context.Context) error {
	db, err := a.stores.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	objects, err := a.stores.InitObjectStore(ctx)
	if err != nil {
		db.Close()
		return err
	}
	a.objects = objects

	a.mgr = connmgr.NewManager(
		a.db,
		a.objects,
		a.Config.ObjectStore.Bucket,
		a.Config.Database.Pool,
		a.Config.CircuitBreaker,
		a.Logger,
	)
	return nil
}

func (a *App) initComponents(ctx context.Context) error {
	p, err := parser.NewParser(parser.NewRepository(a.mgr), a.Config.Validation, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}
	if err := p.ReloadRules(ctx); err != nil {
		initCtx := logging.WithServiceName(ctx, "ingest-service")
		a.Logger.WarnwCtx(initCtx, "Failed to load initial validation rules",
			"error", err,
		)
	}
	a.parser = p

	a.failures = deadletter.NewRouter(deadletter.NewRepository(a.mgr), a.Logger)
	a.archiver = archiver.New(a.Config.Archiver, archiver.NewMinioStore(a.mgr), a.failures, a.Logger)
	a.persister = persister.New(persister.NewRepository(a.mgr), a.mgr, a.Config.Pipeline.WindowDuration, a.Logger)

	return nil
}

func (a *App) initHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewObjectStoreChecker(a.objects, a.Config.ObjectStore.Bucket))
	healthRegistry.Register(health.NewConsumerChecker(a.Config.Broker.Type, a.AnyConsumerConnected))
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return a.parser.StartReloader(gCtx)
	})

	g.Go(func() error {
		return a.archiver.Run(gCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(constants.CheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for i, consumer := range a.Consumers {
					if err := consumer.Checkpoint(gCtx); err != nil {
						a.Logger.WarnwCtx(gCtx, "Checkpoint failed",
							"worker_id", i,
							"error", err,
						)
					}
				}
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
	})

	g.Go(func() error {
		return a.orchestrator.Run(gCtx)
	})

	return g.Wait()
}

// ProcessPayload forwards to the orchestrator's offline path.
func (a *App) ProcessPayload(ctx context.Context, payload []byte) (*models.ParsedTransaction, error) {
	return a.orchestrator.ProcessPayload(ctx, payload)
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "ingest-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down ingest service")

	if len(a.Consumers) > 0 {
		checkpointCtx, cancel := context.WithTimeout(ctx, constants.BrokerConnectTimeout)
		for i, consumer := range a.Consumers {
			if err := consumer.Checkpoint(checkpointCtx); err != nil {
				a.Logger.WarnwCtx(shutdownCtx, "Final checkpoint failed",
					"worker_id", i,
					"error", err,
				)
			}
		}
		cancel()
	}

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.mgr != nil {
			if err := a.mgr.Close(); err != nil {
				errs = append(errs, fmt.Errorf("connection manager close error: %w", err))
			}
			// connmgr owns the db handle; nothing further to close here.
			a.db = nil
		}

		errs = append(errs, a.stores.ShutdownStores(a.db, a.redis)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
