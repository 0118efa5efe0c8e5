package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TaskPending    string = "pending"
	TaskProcessing string = "processing"
	TaskCompleted  string = "completed"
	TaskFailed     string = "failed"
)

const (
	DataText  string = "text"
	DataAudio string = "audio"
)

const (
	TransactionCredit string = "credit"
	TransactionDebit  string = "debit"
)

const (
	RoleRegular string = "regular"
	RoleAdmin   string = "admin"
)

const DefaultCurrency = "USD"

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username     string         `gorm:"size:50;not null;uniqueIndex"`
	Email        sql.NullString `gorm:"size:255"`
	Role         string         `gorm:"size:20;not null;default:regular"`
	CreationTime time.Time

	Wallet *Wallet `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`
}

type Wallet struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`

	Balance      decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	Currency     string          `gorm:"size:3;not null;default:USD"`
	CreationTime time.Time
}

// Transaction is an immutable ledger entry. The (ml_task_id, transaction_type)
// unique index allows at most one debit per task.
type Transaction struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	WalletId uuid.UUID     `gorm:"type:uuid;not null;index"`
	UserId   uuid.NullUUID `gorm:"type:uuid;index"`
	MlTaskId uuid.NullUUID `gorm:"type:uuid;uniqueIndex:idx_transactions_task_type"`

	TransactionType string          `gorm:"size:10;not null;uniqueIndex:idx_transactions_task_type"`
	Amount          decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Description     string
	Timestamp       time.Time
}

type MLModel struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name              string `gorm:"size:100;not null;uniqueIndex"`
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
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId  uuid.UUID `gorm:"type:uuid;not null;index"`
	ModelId uuid.UUID `gorm:"type:uuid;not null"`
	Model   *MLModel  `gorm:"foreignKey:ModelId"`

	InputData  string `gorm:"type:text;not null"`
	InputType  string `gorm:"size:10;not null"`
	OutputType string `gorm:"size:10;not null"`

	Status       string `gorm:"size:20;not null;index"`
	ErrorMessage sql.NullString

	ResultId uuid.NullUUID    `gorm:"type:uuid"`
	Result   *PredictionResult `gorm:"foreignKey:ResultId"`

	// ChannelAddress is where the outcome is pushed (a telegram chat id).
	// Tasks submitted over plain HTTP leave it empty and are never notified.
	ChannelAddress sql.NullString `gorm:"size:64"`
	NotifiedAt     sql.NullTime

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
}

func (Task) TableName() string {
	return "ml_tasks"
}

func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

type PredictionResult struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	PredictionData datatypes.JSON `gorm:"not null"`
	ValidData      int            `gorm:"not null;default:0"`
	InvalidData    int            `gorm:"not null;default:0"`
	CreationTime   time.Time
}
