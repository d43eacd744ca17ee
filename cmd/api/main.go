package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/config"
	"github.com/kursadbilgin/ticket-engine/internal/converter"
	"github.com/kursadbilgin/ticket-engine/internal/handler"
	"github.com/kursadbilgin/ticket-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/ticket-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/ticket-engine/internal/infra/redis"
	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"github.com/kursadbilgin/ticket-engine/internal/queue"
	"github.com/kursadbilgin/ticket-engine/internal/render"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"github.com/kursadbilgin/ticket-engine/internal/service"
	"github.com/kursadbilgin/ticket-engine/internal/ticketnumber"
	"github.com/kursadbilgin/ticket-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	checks := make([]handler.ReadinessCheck, 0, 4)

	// Batch store.
	var batches repository.BatchRepository
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("postgres initialization failed", zap.Error(err))
		}
		defer closePostgres(db, logger)

		if err := migrations.Migrate(db); err != nil {
			logger.Fatal("database migrations failed", zap.Error(err))
		}
		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal("postgres underlying db init failed", zap.Error(err))
		}
		checks = append(checks, handler.SQLCheck("postgres", sqlDB))

		batches, err = repository.NewGormBatchRepo(db, cfg.OutputDir, cfg.BatchIDPrefix, logger)
		if err != nil {
			logger.Fatal("batch store initialization failed", zap.Error(err))
		}
	default:
		batches, err = repository.NewFileBatchRepo(cfg.OutputDir, cfg.BatchIDPrefix, logger)
		if err != nil {
			logger.Fatal("batch store initialization failed", zap.Error(err))
		}
	}
	checks = append(checks, handler.ReadinessCheck{Name: "store", Ping: batches.Ping})

	agencies, err := repository.NewFileAgencyRepo(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("agency directory initialization failed", zap.Error(err))
	}

	// Ticket serial counters.
	var counters ticketnumber.CounterStore
	switch cfg.SerialBackend {
	case config.SerialBackendRedis:
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
		checks = append(checks, handler.RedisCheck(rdb))

		counters, err = infraredis.NewCounterStore(rdb)
		if err != nil {
			logger.Fatal("counter store initialization failed", zap.Error(err))
		}
	default:
		counters, err = repository.NewFileCounterRepo(cfg.DataDir)
		if err != nil {
			logger.Fatal("counter store initialization failed", zap.Error(err))
		}
	}
	serials, err := ticketnumber.NewAllocator(counters, logger)
	if err != nil {
		logger.Fatal("serial allocator initialization failed", zap.Error(err))
	}

	conv, err := newConverter(cfg, logger)
	if err != nil {
		logger.Fatal("converter initialization failed", zap.Error(err))
	}

	airports, err := render.LoadAirports(cfg.AirportsFile)
	if err != nil {
		logger.Fatal("airport table initialization failed", zap.Error(err))
	}

	processor, err := service.NewProcessor(service.ProcessorConfig{
		Batches:       batches,
		Agencies:      agencies,
		Serials:       serials,
		Renderer:      render.NewRenderer(logger),
		Converter:     conv,
		ConverterName: cfg.Converter,
		Airports:      airports,
		TemplateDir:   cfg.TemplateDir,
	}, logger)
	if err != nil {
		logger.Fatal("processor initialization failed", zap.Error(err))
	}
	processor.SetMetrics(metrics)

	// processCtx is independent of requests and cancelled on shutdown.
	processCtx, cancelProcessing := context.WithCancel(context.Background())
	defer cancelProcessing()

	g, gCtx := errgroup.WithContext(ctx)

	var (
		dispatcher service.Dispatcher
		inProcess  *service.InProcessDispatcher
	)
	switch cfg.DispatchMode {
	case config.DispatchModeRabbitMQ:
		client, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer client.Close()
		checks = append(checks, handler.ReadinessCheck{Name: "rabbitmq", Ping: client.Ping})

		dispatcher, err = service.NewQueueDispatcher(queue.NewRabbitMQPublisher(client), logger)
		if err != nil {
			logger.Fatal("dispatcher initialization failed", zap.Error(err))
		}

		worker, err := service.NewWorker(queue.NewRabbitMQConsumer(client, 1, logger), processor, cfg.MaxConcurrentBatches, logger)
		if err != nil {
			logger.Fatal("worker initialization failed", zap.Error(err))
		}
		g.Go(func() error {
			return worker.Start(processCtx)
		})
	default:
		inProcess, err = service.NewInProcessDispatcher(processCtx, processor, cfg.MaxConcurrentBatches, logger)
		if err != nil {
			logger.Fatal("dispatcher initialization failed", zap.Error(err))
		}
		dispatcher = inProcess
	}

	batchService, err := service.NewBatchService(batches, dispatcher, conv, cfg.OutputDir, logger)
	if err != nil {
		logger.Fatal("batch service initialization failed", zap.Error(err))
	}
	agencyService, err := service.NewAgencyService(agencies, serials, logger)
	if err != nil {
		logger.Fatal("agency service initialization failed", zap.Error(err))
	}
	fileService, err := service.NewFileService(batches, logger)
	if err != nil {
		logger.Fatal("file service initialization failed", zap.Error(err))
	}

	if cfg.ResumeOnStart {
		resumer, err := service.NewResumer(batches, dispatcher, logger)
		if err != nil {
			logger.Fatal("resumer initialization failed", zap.Error(err))
		}
		if n, err := resumer.Resume(ctx); err != nil {
			logger.Error("resuming unfinished batches failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("unfinished batches resumed", zap.Int("count", n))
		}
	}

	app := transport.NewServer(transport.ServerConfig{AllowedOrigins: cfg.AllowedOrigins()}, metrics, logger)
	handler.RegisterHealthRoutes(app, checks...)
	handler.RegisterMetricsRoute(app, metrics)
	if err := handler.RegisterTicketRoutes(app, batchService, fileService); err != nil {
		logger.Fatal("ticket routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterAgencyRoutes(app, agencyService); err != nil {
		logger.Fatal("agency routes registration failed", zap.Error(err))
	}

	g.Go(func() error {
		logger.Info("ticket-engine api started",
			zap.Int("port", cfg.APIPort),
			zap.String("store", cfg.StoreDriver),
			zap.String("dispatch", cfg.DispatchMode),
			zap.String("converter", cfg.Converter),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}

		cancelProcessing()
		if inProcess != nil {
			if err := inProcess.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("waiting for batches failed", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ticket-engine stopped with error", zap.Error(err))
		return
	}
	logger.Info("ticket-engine stopped")
}

func newConverter(cfg *config.Config, logger *zap.Logger) (converter.Converter, error) {
	switch cfg.Converter {
	case config.ConverterGotenberg:
		return converter.NewGotenbergConverter(cfg.GotenbergURL, cfg.ConvertTimeout, logger)
	default:
		return converter.NewSofficeConverter(cfg.SofficePath, cfg.ConvertTimeout, logger), nil
	}
}

func closePostgres(db *gorm.DB, logger *zap.Logger) {
	if err := postgresql.Close(db); err != nil {
		logger.Warn("postgres close failed", zap.Error(err))
	}
}
