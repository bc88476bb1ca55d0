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

	"voucher-service/config"
	"voucher-service/internal/api"
	"voucher-service/internal/broker"
	"voucher-service/internal/gateway"
	"voucher-service/internal/ratelimit"
	"voucher-service/internal/redisclient"
	"voucher-service/internal/service"
	"voucher-service/internal/store"
	"voucher-service/internal/util"
	"voucher-service/internal/webhook"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting voucher service")

	tp, err := util.InitTracer("voucher-service", cfg.Observ.JaegerEndpoint)
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

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)
	gateways := gateway.NewFactory(&cfg.Payment)
	log.Printf("Payment gateways available: %v", gateways.Available())

	webhookLimiter := ratelimit.NewRedisLimiter(redisClient, "webhook",
		time.Duration(cfg.Business.WebhookRateWindowSec)*time.Second, cfg.Business.WebhookRateMax)
	recoveryLimiter := ratelimit.NewRedisLimiter(redisClient, "recovery",
		time.Duration(cfg.Business.RecoveryRateWindow)*time.Second, cfg.Business.RecoveryRateMax)

	purchaseService := service.NewPurchaseService(db, redisClient, gateways, &cfg.Business)
	completionService := service.NewCompletionService(db, redisClient, eventPublisher, &cfg.Business)
	recoveryService := service.NewRecoveryService(
		db, redisClient, purchaseService, completionService, eventPublisher, recoveryLimiter, &cfg.Business)
	voucherService := service.NewVoucherService(db, gateways)

	webhookProcessor := webhook.NewProcessor(
		gateways, completionService, completionService, webhookLimiter, &cfg.Payment.Doku)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(
		purchaseService, completionService, recoveryService, voucherService,
		webhookProcessor, gateways, db)
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

	log.Println("Server exited")
}
