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
	"justphoto/internal/gateway"
	"justphoto/internal/logger"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	log := logger.New("api-gateway")
	logger.SetDefault(log)

	port := config.GetEnvInt("GATEWAY_PORT", 8080)
	consulAddr := config.GetEnvOrDefault("CONSUL_HTTP_ADDR", "localhost:8500")

	log.Info("Starting API Gateway", "port", port, "consul_addr", consulAddr)

	consulClient, err := consul.NewClient(consulAddr, os.Getenv("CONSUL_HTTP_TOKEN"))
	if err != nil {
		log.Error("Failed to create Consul client", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      gateway.SetupRouter(consulClient, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("API Gateway listening", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down API Gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("API Gateway stopped")
}
