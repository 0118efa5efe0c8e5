package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/domospb/whoisalice/cmd"
	"github.com/domospb/whoisalice/internal/api"
	"github.com/domospb/whoisalice/internal/config"
	"github.com/domospb/whoisalice/internal/core"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/inference"
	"github.com/domospb/whoisalice/internal/messaging"
	"github.com/domospb/whoisalice/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

// Config runs api, worker and (optionally) notifier in one process on top of
// sqlite and an in-memory queue.
type Config struct {
	config.InferenceConfig
	config.NotifierConfig

	Root           string `env:"ROOT" envDefault:"./whoisalice"`
	Port           int    `env:"PORT" envDefault:"8000"`
	Concurrency    int    `env:"WORKER_CONCURRENCY" envDefault:"2"`
	MaxAudioSizeMB int64  `env:"MAX_AUDIO_SIZE_MB" envDefault:"10"`
}

func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	tasks, err := database.ListPendingTasks(context.Background(), db)
	if err != nil {
		log.Fatalf("Failed to fetch tasks from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	// The queue buffer is bounded, so replay from a goroutine.
	go func() {
		for _, task := range tasks {
			if err := queue.PublishPredictionTask(context.Background(), messaging.PredictionTaskPayload{
				TaskId:     task.Id,
				UserId:     task.UserId,
				ModelId:    task.ModelId,
				InputData:  task.InputData,
				InputType:  task.InputType,
				OutputType: task.OutputType,
			}); err != nil {
				slog.Error("failed to republish pending task", "task_id", task.Id, "error", err)
			}
		}
		if len(tasks) > 0 {
			slog.Info("republished pending tasks", "count", len(tasks))
		}
	}()

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, port int, maxAudioBytes int64) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	service := api.NewBackendService(db, core.NewSubmitter(db, queue, store), store, maxAudioBytes)
	service.AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg := cmd.ParseConfig[Config]()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting local backend", "root", cfg.Root, "port", cfg.Port)

	db, err := database.NewDatabase(filepath.Join(cfg.Root, "db", "whoisalice.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	if err := cmd.SeedDatabase(context.Background(), db); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := inference.NewBackends(ctx, cfg.InferenceConfig)
	if err != nil {
		log.Fatalf("Failed to initialize inference backends: %v", err)
	}
	defer backends.Close()

	queue := createQueue(db)

	processor := core.NewTaskProcessor(db, store, queue, backends, core.ProcessorOptions{
		WorkerId:     "local",
		Concurrency:  cfg.Concurrency,
		StageTimeout: cfg.Timeout,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()

	if cfg.TelegramBotToken != "" {
		notifier, cleanup := cmd.NewNotifier(db, store, cfg.NotifierConfig)
		defer cleanup()

		wg.Add(1)
		go func() {
			defer wg.Done()
			notifier.Run(ctx)
		}()
	} else {
		slog.Info("TELEGRAM_BOT_TOKEN not set, notifications disabled")
	}

	server := createServer(db, store, queue, cfg.Port, cfg.MaxAudioSizeMB*1024*1024)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("waiting for worker and notifier")
	wg.Wait()
	processor.Stop()

	slog.Info("server stopped")
}
