// Package control wires the service together and manages its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/config"
	"github.com/neviso/core/internal/core/worker"
	"github.com/neviso/core/internal/credit"
	"github.com/neviso/core/internal/health"
	redisclient "github.com/neviso/core/internal/infra/redis"
	"github.com/neviso/core/internal/infra/storage"
	"github.com/neviso/core/internal/infra/storage/memory"
	"github.com/neviso/core/internal/infra/storage/postgres"
	"github.com/neviso/core/internal/notify"
	"github.com/neviso/core/internal/pipeline"
	"github.com/neviso/core/internal/queue"
	"github.com/neviso/core/internal/transform"
	"github.com/neviso/core/migrations"
)

// Service is the main application struct that owns all components.
type Service struct {
	cfg          *config.AppConfig
	store        storage.Store
	db           *postgres.DB
	redisClient  *redisclient.Client
	ledger       *credit.Ledger
	controller   *queue.Controller
	processor    *pipeline.Processor
	staleSweeper *worker.StaleSweeper
	grantExpirer *worker.GrantExpirer
	healthServer *health.Server
	log          *slog.Logger
}

// NewService creates a Service with all dependencies initialized.
func NewService(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	// 1. Storage
	var store storage.Store
	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		goose.SetBaseFS(migrations.Files)
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "."); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		store = postgres.NewStore(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store = memory.NewStore()
		slog.Info("Using memory storage")
	}

	// 2. Ranking board
	var board queue.Board
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		board = redisClient
		slog.Info("Using Redis ranking board")
	} else {
		board = queue.NewMemoryBoard()
		slog.Info("Using memory ranking board")
	}

	// 3. Credits
	ledger := credit.NewLedger(store)
	imageCost, err := decimal.NewFromString(cfg.Credits.ImageCost)
	if err != nil {
		return nil, fmt.Errorf("invalid image_cost %q: %w", cfg.Credits.ImageCost, err)
	}
	estimator := credit.NewEstimator(imageCost)

	// 4. Queue
	controller := queue.NewController(queue.Config{
		Capacity:     cfg.Queue.Capacity,
		RatePerMin:   cfg.Queue.RatePerMinute,
		RatePerDay:   cfg.Queue.RatePerDay,
		MaxRetries:   cfg.Queue.MaxRetries,
		StaleTimeout: cfg.Queue.StaleTimeout.Std(),
	}, store, board)

	// 5. Pipeline
	sink := notify.NewStoreSink(store.Notifications())
	service := transform.NewHTTPClient(transform.Config{
		BaseURL: cfg.Transform.BaseURL,
		APIKey:  cfg.Transform.APIKey,
		Model:   cfg.Transform.Model,
		Timeout: cfg.Transform.Timeout.Std(),
	})
	processor := pipeline.NewProcessor(pipeline.Config{
		PollInterval: cfg.Queue.PollInterval.Std(),
		Retry: pipeline.RetryPolicy{
			MaxRetries: cfg.Queue.MaxRetries,
			BaseDelay:  cfg.Queue.RetryBaseDelay.Std(),
			Multiplier: cfg.Queue.RetryBackoff,
		},
	}, store, ledger, estimator, controller, service, sink)

	// 6. Maintenance workers
	staleSweeper := worker.NewStaleSweeper(controller, cfg.Queue.SweepInterval.Std())
	grantExpirer := worker.NewGrantExpirer(ledger, 0)

	// 7. Health server
	checkers := map[string]health.Checker{}
	if db != nil {
		checkers["postgres"] = db
	}
	if redisClient != nil {
		checkers["redis"] = redisClient
	}
	healthServer := health.NewServer(controller, checkers, cfg.Server.Port)

	return &Service{
		cfg:          cfg,
		store:        store,
		db:           db,
		redisClient:  redisClient,
		ledger:       ledger,
		controller:   controller,
		processor:    processor,
		staleSweeper: staleSweeper,
		grantExpirer: grantExpirer,
		healthServer: healthServer,
		log:          slog.Default(),
	}, nil
}

// Ledger exposes the credit ledger for admin commands.
func (s *Service) Ledger() *credit.Ledger { return s.ledger }

// Controller exposes the admission controller.
func (s *Service) Controller() *queue.Controller { return s.controller }

// Start launches the processor, maintenance workers and health server.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.healthServer.Start(); err != nil {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	s.processor.Start(ctx)
	go s.staleSweeper.Start(ctx)
	go s.grantExpirer.Start(ctx)

	s.log.Info("Service started", "port", s.cfg.Server.Port, "capacity", s.cfg.Queue.Capacity)
	return nil
}

// Stop shuts the service down, waiting for the in-flight job to settle.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	s.processor.Stop()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn("Failed to close store", "error", err)
	}

	return s.healthServer.Stop(ctx)
}
