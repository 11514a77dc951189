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

	"payment-reconciler/config"
	"payment-reconciler/internal/api"
	"payment-reconciler/internal/broker"
	"payment-reconciler/internal/ledger"
	"payment-reconciler/internal/notify"
	"payment-reconciler/internal/provider"
	"payment-reconciler/internal/redisclient"
	"payment-reconciler/internal/service"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/util"
	"payment-reconciler/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment reconciler")

	tp, err := util.InitTracer("payment-reconciler", cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(
		cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		time.Duration(cfg.Redis.TTLSeconds)*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventLedger := ledger.New(db.GetDB(),
		time.Duration(cfg.Ledger.ClaimLeaseSeconds)*time.Second)

	dispatcher := notify.NewDispatcher(producer)
	engine := service.NewEngine(eventLedger, db, db, dispatcher, redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	eventConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents, cfg.Kafka.ConsumerGroup)
	reconcileWorker := worker.NewReconcileWorker(eventConsumer, engine)
	go func() {
		if err := reconcileWorker.Start(workerCtx); err != nil {
			log.Printf("Reconcile worker error: %v", err)
		}
	}()

	cleanupWorker := worker.NewCleanupWorker(eventLedger, ledger.Config{
		Retention:      time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour,
		ErrorRetention: time.Duration(cfg.Ledger.ErrorRetentionDays) * 24 * time.Hour,
		PurgeBatch:     cfg.Ledger.PurgeBatch,
	}, time.Duration(cfg.Ledger.PurgeIntervalSeconds)*time.Second)
	go func() {
		if err := cleanupWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Cleanup worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	verifier := provider.NewHMACVerifier(cfg.Provider.WebhookSecret)
	handler := api.NewHandler(engine, verifier)
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
	reconcileWorker.Stop()

	log.Println("Server exited")
}
