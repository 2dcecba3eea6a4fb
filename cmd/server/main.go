package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/broker"
	"storefront/internal/payment"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("storefront", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.MigrateOnBoot {
		if err := store.Migrate(cfg.Database.URL); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database schema up to date")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer orderProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notificationProducer.Close()
	logger.Info("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(orderProducer, notificationProducer)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	creds := payment.ResolveCredentials(startupCtx, db, payment.Credentials{
		StoreID:       cfg.Gateway.StoreID,
		StorePassword: cfg.Gateway.StorePassword,
		Sandbox:       cfg.Gateway.Sandbox,
	})
	startupCancel()
	if err := creds.Validate(); err != nil {
		logger.Warn("Hosted gateway not configured, card checkout will fail", zap.Error(err))
	}
	gateway := payment.NewHostedGateway(creds, cfg.Gateway.Currency,
		payment.WithHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout}))

	notifier := service.NewKafkaNotifier(eventPublisher, cfg.Business.OperatorEmail)
	ledger := service.NewLedgerSynchronizer(db)
	orderService := service.NewOrderService(db, redisClient, gateway, ledger, notifier, eventPublisher, redisClient,
		service.OrderServiceConfig{
			PublicURL:       cfg.Server.PublicURL,
			CallbackLockTTL: cfg.Business.CallbackLockTTL,
		})
	cartService := service.NewCartService(redisClient, db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, worker.NewLogMailer())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, cartService, auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		api.WithReadinessCheck("postgres", db),
		api.WithReadinessCheck("redis", redisClient),
		api.WithReconcileLookback(cfg.Business.ReconcileLookback))
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	notifier.Wait()
	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
