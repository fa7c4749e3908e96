package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inn_service/internal/client"
	"inn_service/internal/config"
	"inn_service/internal/health"
	"inn_service/internal/logger"
	"inn_service/internal/messaging"
	"inn_service/internal/repository"
	"inn_service/internal/service"
	"inn_service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting INN service")

	mongoConn, err := storage.NewConnectionManager(cfg.MongoDSN(), cfg.MongoTimeout(), log)
	if err != nil {
		log.Fatal("Failed to create MongoDB client", zap.Error(err))
	}

	rabbit := messaging.NewRabbitManager(cfg.RabbitDSN(), cfg.Rabbit, log)
	if err := rabbit.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}

	requestRepo := repository.NewRequestRepository(mongoConn, cfg.Mongo.DBName, log)
	requestRepo.EnsureIndexes()

	nalogClient := client.NewNalogClient(cfg.Nalog, log)
	innService := service.NewInnService(nalogClient, requestRepo, log)

	queueManager := messaging.NewQueueManager(rabbit, log)
	queueManager.AddHandler(messaging.NewRequestHandler(innService, rabbit, cfg.Rabbit, log))

	if err := queueManager.Run(); err != nil {
		log.Fatal("Failed to start consumers", zap.Error(err))
	}

	healthService := health.NewService(log, rabbit, mongoConn)
	http.HandleFunc("/health", healthService.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting health endpoint", zap.String("address", addr))

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Fatal("Failed to start health endpoint", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	// Закрытие соединения прерывает обработчики в полёте; сообщения без
	// подтверждения вернутся в очередь.
	if err := rabbit.Close(); err != nil {
		log.Error("Failed to close RabbitMQ connection", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mongoConn.Close(ctx); err != nil {
		log.Error("Failed to close MongoDB connection", zap.Error(err))
	}

	log.Info("Service exited")
}
