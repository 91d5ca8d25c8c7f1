package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-rsvp/internal/config"
	"ms-rsvp/internal/database/migrations"
	"ms-rsvp/internal/events"
	kafkapkg "ms-rsvp/internal/kafka"
	"ms-rsvp/internal/logger"
	"ms-rsvp/internal/mailer"
	"ms-rsvp/internal/profiles"
	"ms-rsvp/internal/rsvp"
	"ms-rsvp/internal/rsvp/api"
	rsvpdb "ms-rsvp/internal/rsvp/db"
	rsvpredis "ms-rsvp/internal/rsvp/redis"
)

func main() {
	ctx := context.Background()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	// --- PostgreSQL Setup ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN()))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	// Run migrations
	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer runner.Close()

	// --- Redis Setup ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	log.Info("REDIS", "Connecting to Redis...")
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	// --- Kafka Setup ---
	var producer *kafkapkg.Producer
	if cfg.Kafka.Enabled {
		if err := kafkapkg.CreateTopicIfNotExists(cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic bootstrap failed: %v", err))
		}
		producer = kafkapkg.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
	} else {
		log.Warn("KAFKA", "Kafka disabled; lifecycle events will not be published")
	}

	// --- Initialize Dependencies ---
	eventsDB := events.NewDB(bunDB)
	profilesDB := profiles.NewDB(bunDB)
	store := rsvpdb.NewDB(bunDB)
	claims := rsvpredis.NewRedis(redisClient)
	mail := mailer.NewMailerService(cfg.Email.APIKey, cfg.Email.FromName, cfg.Email.FromEmail, log)

	log.Info("STARTUP", "Initializing RSVP service...")
	var publisher rsvp.Publisher
	if producer != nil {
		publisher = producer
	}
	service := rsvp.NewService(bunDB, store, eventsDB, claims, profilesDB, mail, publisher, log, cfg.Reservation)
	log.Info("STARTUP", fmt.Sprintf("Confirmation window: %s", service.Window()))
	handler := api.NewHandler(service, eventsDB, log)

	// --- Setup Router ---
	r := chi.NewRouter()
	handler.Routes(r)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("STARTUP", fmt.Sprintf("RSVP service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("STARTUP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SHUTDOWN", "Shutdown signal received. Cleaning up...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("SHUTDOWN", fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	log.Info("SHUTDOWN", "Server exited gracefully")
}
