package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"decoration-service/config"
	"decoration-service/internal/api"
	"decoration-service/internal/broker"
	"decoration-service/internal/redisclient"
	"decoration-service/internal/sequence"
	"decoration-service/internal/service"
	"decoration-service/internal/store"
	"decoration-service/internal/util"
	"decoration-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting decoration service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	teams, err := config.LoadSequence(cfg.Business.SequenceFile, cfg.Business.TeamSequence)
	if err != nil {
		log.Fatalf("Failed to load team sequence: %v", err)
	}
	policy, err := sequence.NewPolicy(teams)
	if err != nil {
		log.Fatalf("Invalid team sequence: %v", err)
	}
	logger.Info("Team sequence loaded", zap.Strings("teams", policy.Teams()))

	var repo service.Repository
	switch cfg.Database.Driver {
	case config.StoreDriverMemory:
		repo = store.NewMemoryStore()
		logger.Warn("Using in-memory store, data is lost on restart")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Println("Database connected")
		repo = db
	}

	var (
		locker service.DistributedLocker
		stock  service.StockSource
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Redis connected")
		locker = redisClient
		stock = redisClient
	}

	var (
		publisher service.EventPublisher
		bus       *broker.MemoryBus
	)
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		log.Println("Kafka producer initialized")
		publisher = broker.NewEventPublisher(producer)
	} else {
		bus = broker.NewMemoryBus()
		publisher = bus
		logger.Warn("Kafka disabled, replies and broadcasts stay in process")
	}

	ledgerService := service.NewLedgerService(
		repo,
		policy,
		service.NewLocks(locker, cfg.Business.LockTTL),
		service.NewInventoryClient(stock),
		publisher,
	)
	processor := service.NewCommandProcessor(ledgerService, publisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var commandWorker *worker.CommandWorker
	if cfg.Kafka.Enabled {
		commandConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup)
		commandWorker = worker.NewCommandWorker(commandConsumer, processor)
		go func() {
			if err := commandWorker.Start(workerCtx); err != nil {
				log.Printf("Command worker error: %v", err)
			}
		}()
	} else {
		bus.ServeCommands(processor.Handle)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(ledgerService, processor)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if commandWorker != nil {
		commandWorker.Stop()
	}
	if bus != nil {
		bus.Wait()
	}

	log.Println("Server exited")
}
