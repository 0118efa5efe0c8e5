package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/domospb/whoisalice/cmd"
	"github.com/domospb/whoisalice/internal/config"
	"github.com/domospb/whoisalice/internal/database"
)

type NotifierConfig struct {
	config.DatabaseConfig
	config.StorageConfig
	config.NotifierConfig
}

func main() {
	log.Println("Starting Notifier...")

	cmd.LoadEnvFile()

	cfg := cmd.ParseConfig[NotifierConfig]()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := cmd.NewObjectStore(ctx, cfg.StorageConfig)

	notifier, cleanup := cmd.NewNotifier(db, store, cfg.NotifierConfig)
	defer cleanup()

	notifier.Run(ctx)

	log.Println("Notifier stopped.")
}
