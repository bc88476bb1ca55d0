package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"voucher-service/config"
	"voucher-service/internal/broker"
	"voucher-service/internal/notify"
	"voucher-service/internal/util"
	"voucher-service/internal/worker"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting notification worker")

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)

	sender := notify.NewLogSender()
	notificationWorker := worker.NewNotificationWorker(consumer, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := notificationWorker.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	notificationWorker.Stop()
	log.Println("Worker exited")
}
