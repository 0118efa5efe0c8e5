package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Status only moves forward. Each target status lists the states a task may
// be in for the transition to apply; processing -> processing covers a
// redelivered task whose previous worker died before acking.
var allowedPredecessors = map[string][]string{
	TaskProcessing: {TaskPending, TaskProcessing},
	TaskCompleted:  {TaskProcessing},
	TaskFailed:     {TaskPending, TaskProcessing},
}

func GetTask(ctx context.Context, txn *gorm.DB, taskId uuid.UUID) (*Task, error) {
	var task Task
	if err := txn.WithContext(ctx).Preload("Model").Preload("Result").First(&task, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("error loading task %s: %w", taskId, err)
	}
	return &task, nil
}

func transitionTask(ctx context.Context, txn *gorm.DB, taskId uuid.UUID, status string, updates map[string]any) error {
	updates["status"] = status
	if status == TaskCompleted || status == TaskFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	result := txn.WithContext(ctx).
		Model(&Task{}).
		Where("id = ? AND status IN ?", taskId, allowedPredecessors[status]).
		Updates(updates)
	if result.Error != nil {
		slog.Error("error updating task status", "task_id", taskId, "status", status, "error", result.Error)
		return fmt.Errorf("error updating task %s to %s: %w", taskId, status, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task %s cannot move to %s: %w", taskId, status, ErrInvalidTransition)
	}
	return nil
}

// ClaimTask moves a pending (or orphaned processing) task to processing.
func ClaimTask(ctx context.Context, txn *gorm.DB, taskId uuid.UUID) error {
	return transitionTask(ctx, txn, taskId, TaskProcessing, map[string]any{"start_time": time.Now().UTC()})
}

func CompleteTask(ctx context.Context, txn *gorm.DB, taskId, resultId uuid.UUID) error {
	return transitionTask(ctx, txn, taskId, TaskCompleted, map[string]any{"result_id": resultId})
}

// FailTask records errMsg on the task. resultId links a partial result when
// one was produced before the failing stage.
func FailTask(ctx context.Context, txn *gorm.DB, taskId uuid.UUID, errMsg string, resultId uuid.NullUUID) error {
	updates := map[string]any{"error_message": errMsg}
	if resultId.Valid {
		updates["result_id"] = resultId.UUID
	}
	return transitionTask(ctx, txn, taskId, TaskFailed, updates)
}

func SaveResult(ctx context.Context, txn *gorm.DB, result *PredictionResult) error {
	if result.Id == uuid.Nil {
		result.Id = uuid.New()
	}
	if result.CreationTime.IsZero() {
		result.CreationTime = time.Now().UTC()
	}
	if err := txn.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("error saving prediction result: %w", err)
	}
	return nil
}

// NotificationCursor is the position after the last task of a
// ListUnnotifiedTasks page.
type NotificationCursor struct {
	CompletionTime time.Time
	Id             uuid.UUID
}

// CursorAfter returns the cursor that continues after task.
func CursorAfter(task *Task) *NotificationCursor {
	return &NotificationCursor{CompletionTime: task.CompletionTime.Time, Id: task.Id}
}

// ListUnnotifiedTasks returns terminal tasks with a delivery channel whose
// outcome has not been pushed yet, oldest first. A nil cursor starts from the
// beginning; rows that stay unnotified do not hide the ones after them.
func ListUnnotifiedTasks(ctx context.Context, db *gorm.DB, after *NotificationCursor, limit int) ([]Task, error) {
	query := db.WithContext(ctx).
		Preload("Model").
		Preload("Result").
		Where("status IN ? AND channel_address IS NOT NULL AND notified_at IS NULL", []string{TaskCompleted, TaskFailed})
	if after != nil {
		query = query.Where("(completion_time > ? OR (completion_time = ? AND id > ?))", after.CompletionTime, after.CompletionTime, after.Id)
	}

	var tasks []Task
	err := query.
		Order("completion_time ASC").
		Order("id ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("error listing unnotified tasks: %w", err)
	}
	return tasks, nil
}

// MarkTaskNotified sets notified_at once. It reports false when the task was
// already marked or is not terminal.
func MarkTaskNotified(ctx context.Context, db *gorm.DB, taskId uuid.UUID) (bool, error) {
	result := db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ? AND notified_at IS NULL AND status IN ?", taskId, []string{TaskCompleted, TaskFailed}).
		Update("notified_at", time.Now().UTC())
	if result.Error != nil {
		return false, fmt.Errorf("error marking task %s notified: %w", taskId, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func ListPendingTasks(ctx context.Context, db *gorm.DB) ([]Task, error) {
	var tasks []Task
	if err := db.WithContext(ctx).Where("status = ?", TaskPending).Order("creation_time ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("error listing pending tasks: %w", err)
	}
	return tasks, nil
}

func ListUserTasks(ctx context.Context, db *gorm.DB, userId uuid.UUID, limit, offset int) ([]Task, error) {
	var tasks []Task
	err := db.WithContext(ctx).
		Preload("Model").
		Preload("Result").
		Where("user_id = ?", userId).
		Order("creation_time DESC").
		Limit(limit).
		Offset(offset).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("error listing tasks for user %s: %w", userId, err)
	}
	return tasks, nil
}

// FailStaleTasks fails tasks that have been processing since before cutoff.
// A worker that is still running such a task will find it terminal when it
// tries to finalize and drop its result.
func FailStaleTasks(ctx context.Context, db *gorm.DB, cutoff time.Time, errMsg string) (int64, error) {
	result := db.WithContext(ctx).
		Model(&Task{}).
		Where("status = ? AND start_time < ?", TaskProcessing, cutoff).
		Updates(map[string]any{
			"status":          TaskFailed,
			"error_message":   errMsg,
			"completion_time": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("error failing stale tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}
