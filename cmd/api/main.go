package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/domospb/whoisalice/cmd"
	"github.com/domospb/whoisalice/internal/api"
	"github.com/domospb/whoisalice/internal/config"
	"github.com/domospb/whoisalice/internal/core"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/messaging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIConfig struct {
	config.DatabaseConfig
	config.QueueConfig
	config.StorageConfig

	APIPort        string   `env:"API_PORT" envDefault:"8000"`
	MaxAudioSizeMB int64    `env:"MAX_AUDIO_SIZE_MB" envDefault:"10"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	SeedDatabase   bool     `env:"SEED_DATABASE" envDefault:"true"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	cfg := cmd.ParseConfig[APIConfig]()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if cfg.SeedDatabase {
		if err := cmd.SeedDatabase(context.Background(), db); err != nil {
			log.Fatalf("Failed to seed database: %v", err)
		}
	}

	store := cmd.NewObjectStore(context.Background(), cfg.StorageConfig)

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", api.UserIdHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	service := api.NewBackendService(db, core.NewSubmitter(db, publisher, store), store, cfg.MaxAudioSizeMB*1024*1024)
	service.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("API server listening", "port", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
