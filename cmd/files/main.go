package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"justphoto/internal/config"
	"justphoto/internal/consul"
	"justphoto/internal/files"
	"justphoto/internal/logger"
	"justphoto/internal/storage"

	_ "github.com/joho/godotenv/autoload"
)

const serviceName = "files-service"

func main() {
	log := logger.New(serviceName)
	logger.SetDefault(log)

	port := config.GetEnvInt("FILES_SERVICE_PORT", 8084)
	host := config.GetEnvOrDefault("FILES_SERVICE_HOST", "files-service")

	// Initialize storage service (MinIO/S3)
	storageCfg, err := storage.LoadConfig()
	if err != nil {
		log.Error("Invalid storage configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	storageService, err := storage.New(ctx, storageCfg, log)
	if err != nil {
		log.Error("Failed to initialize storage service", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to storage", "endpoint", storageCfg.Endpoint, "bucket", storageCfg.Bucket)

	filesService := files.NewService(storageService)
	router := files.NewServer(filesService, log).RegisterRoutes()

	// Register service with Consul
	consulClient, err := consul.NewClient(
		config.GetEnvOrDefault("CONSUL_HTTP_ADDR", "localhost:8500"),
		os.Getenv("CONSUL_HTTP_TOKEN"),
	)
	if err != nil {
		log.Error("Failed to create Consul client", "error", err)
		os.Exit(1)
	}

	registration := consul.HTTPService(serviceName, host, port, "files", "storage", "uploads", "downloads")
	_ = consulClient.Deregister(registration.ID)
	if err := consulClient.Register(registration); err != nil {
		log.Error("Failed to register service with Consul", "error", err)
		os.Exit(1)
	}
	log.Info("Registered with Consul", "service_id", registration.ID)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Files Service listening", "port", port, "host", host)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Files Service")

	if err := consulClient.Deregister(registration.ID); err != nil {
		log.Warn("Failed to deregister from Consul", "error", err)
	} else {
		log.Info("Deregistered from Consul")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Files Service stopped")
}
