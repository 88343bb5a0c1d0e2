package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"justphoto/internal/cache"
	"justphoto/internal/config"
	"justphoto/internal/consul"
	"justphoto/internal/database"
	"justphoto/internal/kafka"
	"justphoto/internal/logger"
	"justphoto/internal/posts"
	"justphoto/internal/websocket"

	_ "github.com/joho/godotenv/autoload"
)

const serviceName = "posts-service"

func gracefulShutdown(apiServer *http.Server, consulClient *consul.Client, serviceID string, log *slog.Logger, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Info("Shutting down gracefully, press Ctrl+C again to force")
	stop()

	if consulClient != nil {
		if err := consulClient.Deregister(serviceID); err != nil {
			log.Warn("Failed to deregister from Consul", "error", err)
		} else {
			log.Info("Deregistered from Consul", "service_id", serviceID)
		}
	}

	// The server has 5 seconds to finish the requests it is handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	done <- true
}

func main() {
	log := logger.New(serviceName)
	logger.SetDefault(log)

	port := config.GetEnvInt("PORT", 8082)
	host := config.GetEnvOrDefault("POSTS_SERVICE_HOST", "localhost")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	initCtx, initCancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := database.New(initCtx, database.LoadConfig(), log)
	if err != nil {
		initCancel()
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if _, err := database.Migrate(initCtx, db, log); err != nil {
		initCancel()
		log.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	initCancel()

	opts := []posts.ServiceOption{}

	// Cache is optional: the service keeps working against the database
	if store := newCache(ctx, log); store != nil {
		defer store.Close()
		opts = append(opts, posts.WithCache(store))
	}

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	// Kafka is optional as well. With a consumer running, every instance
	// learns about posts from the topic; without one, the hub is notified
	// directly and only sees local creates.
	relayed := false
	if kcfg, err := kafka.LoadConfig(); err != nil {
		log.Info("Kafka disabled", "reason", err)
	} else {
		producer, err := kafka.NewProducer(kcfg, log)
		if err != nil {
			log.Warn("Failed to create Kafka producer, events disabled", "error", err)
		} else {
			defer producer.Close()
			opts = append(opts, posts.WithPublisher(producer, kcfg.PostEventsTopic))

			consumer, err := kafka.NewConsumer(kcfg, "posts-feed-"+host, posts.FeedRelay(hub), log)
			if err != nil {
				log.Warn("Failed to create Kafka consumer, feed relay disabled", "error", err)
			} else {
				stopped := make(chan struct{})
				go func() {
					defer close(stopped)
					if err := consumer.Start(ctx); err != nil {
						log.Error("Feed relay stopped", "error", err)
					}
				}()
				defer func() {
					cancel()
					<-stopped
					consumer.Close()
				}()
				relayed = true
			}
		}
	}
	if !relayed {
		opts = append(opts, posts.WithNotifier(hub))
	}

	service := posts.NewService(posts.NewRepository(db, log), log, opts...)
	apiServer := posts.NewServer(port, service, log,
		posts.WithHealth(db.Health),
		posts.WithFeedSocket(hub),
	).HTTPServer()

	// Consul registration
	var consulClient *consul.Client
	registration := consul.HTTPService(serviceName, host, port, "posts", "content", "api")
	if config.GetEnvBool("CONSUL_ENABLED", true) {
		addr := config.GetEnvOrDefault("CONSUL_HTTP_ADDR", "localhost:8500")
		consulClient, err = consul.NewClient(addr, os.Getenv("CONSUL_HTTP_TOKEN"))
		if err != nil {
			log.Error("Failed to create Consul client", "error", err)
			os.Exit(1)
		}
		// Clean up a registration left behind by a crash
		_ = consulClient.Deregister(registration.ID)
		if err := consulClient.Register(registration); err != nil {
			log.Error("Failed to register service with Consul", "error", err)
			os.Exit(1)
		}
		log.Info("Registered with Consul", "service_id", registration.ID, "consul", addr)
	}

	done := make(chan bool, 1)
	go gracefulShutdown(apiServer, consulClient, registration.ID, log, done)

	log.Info("Posts Service listening", "port", port, "host", host)
	if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("HTTP server error", "error", err)
		os.Exit(1)
	}

	<-done
	log.Info("Graceful shutdown complete")
}

// newCache returns nil when REDIS_ADDR is empty or Redis is unreachable.
// REDIS_ADDR=memory selects the in-process store.
func newCache(ctx context.Context, log *slog.Logger) cache.Store {
	addr := config.GetEnvOrDefault("REDIS_ADDR", "localhost:6379")
	switch addr {
	case "":
		log.Info("Cache disabled")
		return nil
	case "memory":
		log.Info("Using in-process cache")
		return cache.NewMemory()
	}

	store := cache.NewRedisStore(cache.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       config.GetEnvInt("REDIS_DB", 0),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Warn("Redis unavailable, cache disabled", "addr", addr, "error", err)
		store.Close()
		return nil
	}

	log.Info("Connected to Redis", "addr", addr)
	return store
}
