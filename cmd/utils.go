package cmd

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"github.com/domospb/whoisalice/internal/channel"
	"github.com/domospb/whoisalice/internal/config"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/notifier"
	"github.com/domospb/whoisalice/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func ParseConfig[T any]() T {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	return cfg
}

//go:embed catalog.yaml
var catalogYAML []byte

type Catalog struct {
	Models []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Cost        string `yaml:"cost"`
		Version     string `yaml:"version"`
	} `yaml:"models"`
	Users []struct {
		Username string `yaml:"username"`
		Email    string `yaml:"email"`
		Role     string `yaml:"role"`
		Balance  string `yaml:"balance"`
	} `yaml:"users"`
}

func LoadCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return catalog, fmt.Errorf("error parsing catalog: %w", err)
	}
	return catalog, nil
}

// SeedDatabase makes sure the model catalog and the demo accounts exist.
// Models are refreshed from the catalog; existing users are left untouched.
func SeedDatabase(ctx context.Context, db *gorm.DB) error {
	catalog, err := LoadCatalog(catalogYAML)
	if err != nil {
		return err
	}
	return seed(ctx, db, catalog)
}

func seed(ctx context.Context, db *gorm.DB, catalog Catalog) error {
	for _, m := range catalog.Models {
		cost, err := decimal.NewFromString(m.Cost)
		if err != nil {
			return fmt.Errorf("invalid cost %q for model %s: %w", m.Cost, m.Name, err)
		}
		model, err := database.UpsertModel(ctx, db, database.MLModel{
			Name:              m.Name,
			Description:       m.Description,
			CostPerPrediction: cost,
			Version:           m.Version,
			IsActive:          true,
		})
		if err != nil {
			return err
		}
		slog.Info("model ready", "name", model.Name, "cost", model.CostPerPrediction.StringFixed(2))
	}

	for _, u := range catalog.Users {
		balance, err := decimal.NewFromString(u.Balance)
		if err != nil {
			return fmt.Errorf("invalid balance %q for user %s: %w", u.Balance, u.Username, err)
		}
		user, err := database.EnsureUser(ctx, db, u.Username, u.Email, u.Role, balance)
		if err != nil {
			return err
		}
		slog.Info("user ready", "username", user.Username, "user_id", user.Id)
	}

	return nil
}

func NewObjectStore(ctx context.Context, cfg config.StorageConfig) storage.ObjectStore {
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid storage config: %v", err)
	}

	if cfg.Backend == config.StorageS3 {
		store, err := storage.NewS3ObjectStore(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
		})
		if err != nil {
			log.Fatalf("failed to create s3 object store: %v", err)
		}
		return store
	}

	store, err := storage.NewLocalObjectStore(cfg.LocalDir)
	if err != nil {
		log.Fatalf("failed to create local object store: %v", err)
	}
	return store
}

// NewNotifier wires the telegram channel and, when REDIS_URL is set, the
// shared tick lock. The returned cleanup func is never nil.
func NewNotifier(db *gorm.DB, store storage.ObjectStore, cfg config.NotifierConfig) (*notifier.Notifier, func()) {
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid notifier config: %v", err)
	}

	var (
		lock    notifier.TickLock
		cleanup = func() {}
	)
	if cfg.RedisURL != "" {
		redisLock, err := notifier.NewRedisLockFromURL(cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		lock = redisLock
		cleanup = func() {
			if err := redisLock.Close(); err != nil {
				slog.Warn("error closing redis client", "error", err)
			}
		}
	}

	n := notifier.NewNotifier(db, channel.NewTelegramChannel(cfg.TelegramAPIURL, cfg.TelegramBotToken), store, lock, notifier.Options{
		Interval:         cfg.Interval,
		BatchSize:        cfg.BatchSize,
		StaleTaskTimeout: cfg.StaleTaskTimeout,
	})
	return n, cleanup
}
