package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/config"
	"github.com/facultylens/pipeline-service/internal/delivery/httpd"
	"github.com/facultylens/pipeline-service/internal/repository"
	"github.com/facultylens/pipeline-service/internal/service"
	"github.com/facultylens/pipeline-service/internal/service/analyzer"
	"github.com/facultylens/pipeline-service/internal/service/integration"
	"github.com/facultylens/pipeline-service/internal/worker"
	"github.com/facultylens/pipeline-service/internal/worker/queue"
)

type App struct {
	server         *http.Server
	logger         zerolog.Logger
	config         *config.Config
	db             *sql.DB
	pipelineWorker worker.PipelineWorker
	rabbitMQRepo   repository.RabbitMQRepository
	workerCancel   context.CancelFunc
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	rabbitMQRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
	if err != nil {
		return nil, err
	}

	if err := rabbitMQRepo.SetupQueue(cfg.RabbitMQ.QueueName, cfg.RabbitMQ.RoutingKey); err != nil {
		return nil, err
	}

	objectStore, err := repository.NewMinIORepository(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Bucket,
		cfg.Storage.Region,
		cfg.Storage.UseSSL,
		cfg.Storage.ConnectTimeout,
		log,
	)
	if err != nil {
		return nil, err
	}

	taskRepo := repository.NewTaskRepository(db, log)
	submissionRepo := repository.NewSubmissionRepository(db, log)
	formRepo := repository.NewFormRepository(db, log)
	aggregateRepo := repository.NewAggregateRepository(db, log)
	analysisRepo := repository.NewAnalysisRepository(db, log)
	flagRepo := repository.NewFlagRepository(db, log)
	periodRepo := repository.NewPeriodRepository(db, log)
	reportRepo := repository.NewReportRepository(db, log)

	sentimentClient := integration.NewSentimentClient(
		cfg.Sentiment.URL,
		cfg.Sentiment.Timeout,
		cfg.Sentiment.RetryCount,
		cfg.Sentiment.RetryDelay,
		log,
	)

	textSimilarity := analyzer.NewTextSimilarity(log)

	taskService := service.NewTaskService(taskRepo, rabbitMQRepo, log)

	integrityService := service.NewIntegrityService(
		submissionRepo,
		formRepo,
		flagRepo,
		taskService,
		rabbitMQRepo,
		textSimilarity,
		service.IntegrityConfig{
			RecycledContentThreshold: cfg.Pipeline.RecycledContentThreshold,
		},
		log,
	)

	quantitativeService := service.NewQuantitativeService(
		submissionRepo,
		formRepo,
		aggregateRepo,
		taskRepo,
		taskService,
		log,
	)

	qualitativeService := service.NewQualitativeService(
		submissionRepo,
		analysisRepo,
		taskRepo,
		taskService,
		sentimentClient,
		log,
	)

	aggregationService := service.NewAggregationService(
		submissionRepo,
		aggregateRepo,
		analysisRepo,
		rabbitMQRepo,
		service.AggregationConfig{
			QuantWeight:                cfg.Pipeline.QuantWeight,
			QualWeight:                 cfg.Pipeline.QualWeight,
			SentimentCoverageThreshold: cfg.Pipeline.SentimentCoverageThreshold,
		},
		log,
	)

	flagService := service.NewFlagService(
		flagRepo,
		submissionRepo,
		periodRepo,
		taskService,
		service.FlagConfig{
			ResubmissionGracePeriod: cfg.Pipeline.ResubmissionGracePeriod,
		},
		log,
	)

	periodService := service.NewPeriodService(
		periodRepo,
		submissionRepo,
		taskRepo,
		taskService,
		rabbitMQRepo,
		service.PeriodConfig{
			CancellationPollInterval: cfg.Pipeline.CancellationPollInterval,
		},
		log,
	)

	reportService := service.NewReportService(
		reportRepo,
		objectStore,
		taskRepo,
		taskService,
		service.ReportConfig{
			Retention:   cfg.Reporting.Retention,
			PurgeBatch:  cfg.Reporting.PurgeBatch,
			DownloadTTL: cfg.Reporting.DownloadTTL,
		},
		log,
	)

	submissionService := service.NewSubmissionService(
		submissionRepo,
		periodRepo,
		taskService,
		log,
	)

	workerPool := worker.NewWorkerPool(cfg.Pipeline.MaxWorkers, log)

	consumer := queue.NewDispatchConsumer(
		rabbitMQRepo,
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.ConsumerTag,
		log,
	)

	pipelineWorker := worker.NewPipelineWorker(
		worker.WorkerConfig{
			WorkerID:        workerID(),
			LeaseTimeout:    cfg.Pipeline.LeaseTimeout,
			ReclaimInterval: cfg.Pipeline.ReclaimInterval,
			SweepInterval:   cfg.Pipeline.SweepInterval,
			PurgeInterval:   cfg.Reporting.PurgeInterval,
		},
		workerPool,
		consumer,
		taskRepo,
		submissionRepo,
		rabbitMQRepo,
		integrityService,
		quantitativeService,
		qualitativeService,
		aggregationService,
		periodService,
		reportService,
		log,
	)

	handler := httpd.NewHandler(
		taskService,
		submissionService,
		flagService,
		periodService,
		reportService,
		taskRepo,
		log,
	)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:         server,
		logger:         log,
		config:         cfg,
		db:             db,
		pipelineWorker: pipelineWorker,
		rabbitMQRepo:   rabbitMQRepo,
	}, nil
}

// workerID identifies this process in the ledger's locked_by column. The
// uuid suffix keeps replicas on the same host distinct.
func workerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "pipeline"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.workerCancel = cancel
	if err := a.pipelineWorker.Start(ctx); err != nil {
		cancel()
		a.logger.Error().Err(err).Msg("Failed to start pipeline worker")
		return err
	}

	a.logger.Info().Msgf("Starting pipeline service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down pipeline service...")

	if a.workerCancel != nil {
		a.workerCancel()
	}

	if err := a.pipelineWorker.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop pipeline worker")
	}

	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	a.logger.Info().Msg("Pipeline service stopped")
	return nil
}
