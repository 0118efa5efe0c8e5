package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/domospb/whoisalice/cmd"
	"github.com/domospb/whoisalice/internal/config"
	"github.com/domospb/whoisalice/internal/core"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/inference"
	"github.com/domospb/whoisalice/internal/messaging"
)

type WorkerConfig struct {
	config.DatabaseConfig
	config.QueueConfig
	config.StorageConfig
	config.InferenceConfig

	WorkerId    string `env:"WORKER_ID"`
	Concurrency int    `env:"WORKER_CONCURRENCY" envDefault:"1"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg := cmd.ParseConfig[WorkerConfig]()
	if cfg.WorkerId == "" {
		cfg.WorkerId = fmt.Sprintf("worker-%d", os.Getpid())
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := cmd.NewObjectStore(ctx, cfg.StorageConfig)

	backends, err := inference.NewBackends(ctx, cfg.InferenceConfig)
	if err != nil {
		log.Fatalf("Failed to initialize inference backends: %v", err)
	}
	defer backends.Close()

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL, cfg.Concurrency)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := core.NewTaskProcessor(db, store, receiver, backends, core.ProcessorOptions{
		WorkerId:     cfg.WorkerId,
		Concurrency:  cfg.Concurrency,
		StageTimeout: cfg.Timeout,
	})

	slog.Info("worker started",
		"worker_id", cfg.WorkerId,
		"stt", cfg.STTBackend, "chat", cfg.ChatBackend, "tts", cfg.TTSBackend,
	)
	// After the signal, in-flight stages are cancelled and their messages
	// nacked for redelivery. The connection stays open until Start returns so
	// those nacks reach the broker.
	processor.Start(ctx)
	processor.Stop()

	log.Println("Worker process stopped.")
}
