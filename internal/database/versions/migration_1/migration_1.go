package migration_1

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Task struct {
	ChannelAddress sql.NullString `gorm:"size:64"`
	NotifiedAt     sql.NullTime
	StartTime      sql.NullTime
}

func (Task) TableName() string {
	return "ml_tasks"
}

type Transaction struct {
	MlTaskId        uuid.NullUUID `gorm:"type:uuid;uniqueIndex:idx_transactions_task_type"`
	TransactionType string        `gorm:"size:10;not null;uniqueIndex:idx_transactions_task_type"`
}

const taskTypeIndex = "idx_transactions_task_type"

func Migration(db *gorm.DB) error {
	for _, column := range []string{"ChannelAddress", "NotifiedAt", "StartTime"} {
		if err := db.Migrator().AddColumn(&Task{}, column); err != nil {
			return fmt.Errorf("error adding %s column: %w", column, err)
		}
	}

	// Tasks finished before this migration are treated as already delivered.
	if err := db.Exec(
		"UPDATE ml_tasks SET notified_at = completion_time WHERE status IN ('completed', 'failed') AND notified_at IS NULL",
	).Error; err != nil {
		return fmt.Errorf("error backfilling notified_at: %w", err)
	}

	if err := db.Migrator().CreateIndex(&Transaction{}, taskTypeIndex); err != nil {
		return fmt.Errorf("error creating %s index: %w", taskTypeIndex, err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropIndex(&Transaction{}, taskTypeIndex); err != nil {
		return fmt.Errorf("error dropping %s index: %w", taskTypeIndex, err)
	}

	for _, column := range []string{"ChannelAddress", "NotifiedAt", "StartTime"} {
		if err := db.Migrator().DropColumn(&Task{}, column); err != nil {
			return fmt.Errorf("error dropping %s column: %w", column, err)
		}
	}

	return nil
}
