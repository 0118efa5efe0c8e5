package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrModelNotFound = errors.New("model not found")
)

func GetUser(ctx context.Context, db *gorm.DB, userId uuid.UUID) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Preload("Wallet").First(&user, "id = ?", userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error loading user %s: %w", userId, err)
	}
	return &user, nil
}

// EnsureUser creates the user and an empty-or-funded wallet if no user with
// that username exists. The opening balance is recorded as a credit.
func EnsureUser(ctx context.Context, db *gorm.DB, username, email, role string, openingBalance decimal.Decimal) (*User, error) {
	var user User
	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		err := txn.Preload("Wallet").Where("username = ?", username).First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error querying user %s: %w", username, err)
		}

		now := time.Now().UTC()
		user = User{
			Id:           uuid.New(),
			Username:     username,
			Email:        sql.NullString{String: email, Valid: email != ""},
			Role:         role,
			CreationTime: now,
		}
		if err := txn.Create(&user).Error; err != nil {
			return fmt.Errorf("error creating user %s: %w", username, err)
		}

		wallet := &Wallet{
			Id:           uuid.New(),
			UserId:       user.Id,
			Balance:      decimal.Zero,
			Currency:     DefaultCurrency,
			CreationTime: now,
		}
		if err := txn.Create(wallet).Error; err != nil {
			return fmt.Errorf("error creating wallet for %s: %w", username, err)
		}

		if openingBalance.IsPositive() {
			if _, err := Credit(ctx, txn, wallet, openingBalance, "Initial balance"); err != nil {
				return err
			}
		}
		user.Wallet = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func GetActiveModelByName(ctx context.Context, db *gorm.DB, name string) (*MLModel, error) {
	var model MLModel
	if err := db.WithContext(ctx).Where("name = ? AND is_active = ?", name, true).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("error loading model %s: %w", name, err)
	}
	return &model, nil
}

func ListActiveModels(ctx context.Context, db *gorm.DB) ([]MLModel, error) {
	var models []MLModel
	if err := db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}
	return models, nil
}

// UpsertModel creates the model by name, or refreshes cost, description,
// version and active flag of an existing one.
func UpsertModel(ctx context.Context, db *gorm.DB, model MLModel) (*MLModel, error) {
	var existing MLModel
	err := db.WithContext(ctx).Where("name = ?", model.Name).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if model.Id == uuid.Nil {
			model.Id = uuid.New()
		}
		model.CreationTime = time.Now().UTC()
		// is_active has a column default, so it must be selected explicitly
		// or a false value is dropped from the insert.
		if err := db.WithContext(ctx).Select("*").Create(&model).Error; err != nil {
			return nil, fmt.Errorf("error creating model %s: %w", model.Name, err)
		}
		return &model, nil
	case err != nil:
		return nil, fmt.Errorf("error querying model %s: %w", model.Name, err)
	}

	updates := map[string]any{
		"description":         model.Description,
		"cost_per_prediction": model.CostPerPrediction,
		"version":             model.Version,
		"is_active":           model.IsActive,
	}
	if err := db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("error updating model %s: %w", model.Name, err)
	}
	model.Id, model.CreationTime = existing.Id, existing.CreationTime
	return &model, nil
}
