package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blocklive/stagefun-sub002/internal/blockchain"
	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/internal/database"
	"github.com/blocklive/stagefun-sub002/internal/handler"
	"github.com/blocklive/stagefun-sub002/internal/notify"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/internal/scheduler"
	"github.com/blocklive/stagefun-sub002/internal/service"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database: ", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error("Failed to close database: ", err)
		}
	}()

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to migrate database: ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := newPublisher(ctx, cfg.Redis)
	defer publisher.Close()

	eventRepo := repository.NewEventRepository(db)
	poolRepo := repository.NewPoolRepository(db)
	commitmentRepo := repository.NewCommitmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	syncRunRepo := repository.NewSyncRunRepository(db)
	blockRepo := repository.NewBlockRepository(db)

	multipliers := service.NewMultiplierStack(&cfg.Points)
	ledger := service.NewLedger(db, pointsRepo, userRepo, multipliers, publisher)
	rewards := service.NewRewards(&cfg.Points, ledger, userRepo, referralRepo)
	applier := service.NewApplier(db, poolRepo, commitmentRepo, userRepo, rewards, publisher)

	router := service.NewRouter()
	applier.Register(router)

	tracker := service.NewSyncTracker(syncRunRepo)
	orchestrator := service.NewOrchestrator(eventRepo, blockchain.NewDecoder(), router, tracker, cfg.Ingestion)
	defer orchestrator.Close()

	pointsSvc := service.NewPointsService(db, &cfg.Points, ledger, pointsRepo, userRepo, referralRepo, multipliers)
	reconciler := service.NewReconciler(pointsRepo, userRepo, poolRepo, commitmentRepo)

	if err := config.Watch(configPath, func(next *config.Config) {
		if err := multipliers.Reload(&next.Points); err != nil {
			logger.WithError(err).Warn("Keeping previous multiplier tables")
			return
		}
		logger.Info("Multiplier tables reloaded")
	}, func(err error) {
		logger.WithError(err).Warn("Ignoring invalid config change")
	}); err != nil {
		logger.WithError(err).Warn("Config hot reload disabled")
	}

	jobs := scheduler.NewIngestionScheduler(orchestrator, cfg.Ingestion.ReprocessCron, cfg.Ingestion.BatchTimeout)
	backfillers := make(map[string]handler.Backfiller)
	networks := cfg.GetEnabledNetworks()
	for i := range networks {
		network := &networks[i]
		client, err := blockchain.NewClient(network)
		if err != nil {
			logger.WithError(err).Error("Failed to create blockchain client for ", network.Name)
			continue
		}
		defer client.Close()

		poller := blockchain.NewPoller(network, client, blockRepo, orchestrator)
		jobs.AddPoller(poller, network.PollCron)
		backfillers[network.Name] = poller

		logger.WithFields(map[string]interface{}{
			"network":     network.Name,
			"start_block": network.StartBlock,
			"confirm":     network.ConfirmationBlocks,
		}).Info("Chain poller registered")
	}

	if err := jobs.Start(); err != nil {
		logger.Fatal("Failed to start scheduler: ", err)
	}
	defer jobs.Stop()

	h := handler.New(orchestrator, pointsSvc, tracker, reconciler, backfillers)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Router(cfg.Server.AllowedOrigins),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting on port ", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error: ", err)
	}

	logger.Info("Server stopped")
}

func newPublisher(ctx context.Context, cfg config.RedisConfig) notify.Publisher {
	if !cfg.Enabled {
		return notify.NopPublisher{}
	}
	publisher, err := notify.NewRedisPublisher(ctx, &cfg)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, notifications disabled")
		return notify.NopPublisher{}
	}
	return publisher
}
