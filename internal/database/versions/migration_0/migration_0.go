package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot of the schema before tasks carried a delivery channel.

type User struct {
	Id           uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Username     string         `gorm:"size:50;not null;uniqueIndex"`
	Email        sql.NullString `gorm:"size:255"`
	Role         string         `gorm:"size:20;not null;default:regular"`
	CreationTime time.Time
}

type Wallet struct {
	Id           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserId       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	Balance      decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	Currency     string          `gorm:"size:3;not null;default:USD"`
	CreationTime time.Time
}

type Transaction struct {
	Id              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	WalletId        uuid.UUID       `gorm:"type:uuid;not null;index"`
	UserId          uuid.NullUUID   `gorm:"type:uuid;index"`
	MlTaskId        uuid.NullUUID   `gorm:"type:uuid"`
	TransactionType string          `gorm:"size:10;not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Description     string
	Timestamp       time.Time
}

type MLModel struct {
	Id                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Name              string          `gorm:"size:100;not null;uniqueIndex"`
	Description       string
	CostPerPrediction decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Version           string          `gorm:"size:20"`
	IsActive          bool            `gorm:"not null;default:true"`
	CreationTime      time.Time
}

func (MLModel) TableName() string {
	return "ml_models"
}

type Task struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId         uuid.UUID `gorm:"type:uuid;not null;index"`
	ModelId        uuid.UUID `gorm:"type:uuid;not null"`
	InputData      string    `gorm:"type:text;not null"`
	InputType      string    `gorm:"size:10;not null"`
	OutputType     string    `gorm:"size:10;not null"`
	Status         string    `gorm:"size:20;not null;index"`
	ErrorMessage   sql.NullString
	ResultId       uuid.NullUUID `gorm:"type:uuid"`
	CreationTime   time.Time
	CompletionTime sql.NullTime
}

func (Task) TableName() string {
	return "ml_tasks"
}

type PredictionResult struct {
	Id             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	PredictionData datatypes.JSON `gorm:"not null"`
	ValidData      int            `gorm:"not null;default:0"`
	InvalidData    int            `gorm:"not null;default:0"`
	CreationTime   time.Time
}

func Migration(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{}, &Wallet{}, &Transaction{}, &MLModel{}, &Task{}, &PredictionResult{},
	)
	if err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
