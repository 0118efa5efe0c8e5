package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/domospb/whoisalice/internal/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createTask(t *testing.T, db *gorm.DB, status string, channel string) *database.Task {
	user := createUser(t, db, "10")
	model, err := database.UpsertModel(context.Background(), db, database.MLModel{
		Name:              "model-" + uuid.NewString()[:8],
		CostPerPrediction: decimal.RequireFromString("0.50"),
		IsActive:          true,
	})
	require.NoError(t, err)

	task := &database.Task{
		Id:             uuid.New(),
		UserId:         user.Id,
		ModelId:        model.Id,
		InputData:      "hello",
		InputType:      database.DataText,
		OutputType:     database.DataText,
		Status:         status,
		ChannelAddress: sql.NullString{String: channel, Valid: channel != ""},
		CreationTime:   time.Now().UTC(),
	}
	if status == database.TaskCompleted || status == database.TaskFailed {
		task.CompletionTime = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	require.NoError(t, db.Create(task).Error)
	return task
}

func TestTaskStatusIsMonotonic(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	task := createTask(t, db, database.TaskPending, "")

	resultId := uuid.New()
	require.NoError(t, database.SaveResult(ctx, db, &database.PredictionResult{Id: resultId, PredictionData: []byte(`{"output":"hi"}`), ValidData: 1}))

	assert.ErrorIs(t, database.CompleteTask(ctx, db, task.Id, resultId), database.ErrInvalidTransition)

	require.NoError(t, database.ClaimTask(ctx, db, task.Id))
	require.NoError(t, database.ClaimTask(ctx, db, task.Id), "redelivered processing task can be reclaimed")
	require.NoError(t, database.CompleteTask(ctx, db, task.Id, resultId))

	assert.ErrorIs(t, database.ClaimTask(ctx, db, task.Id), database.ErrInvalidTransition)
	assert.ErrorIs(t, database.FailTask(ctx, db, task.Id, "late failure", uuid.NullUUID{}), database.ErrInvalidTransition)
	assert.ErrorIs(t, database.CompleteTask(ctx, db, task.Id, resultId), database.ErrInvalidTransition)

	stored, err := database.GetTask(ctx, db, task.Id)
	require.NoError(t, err)
	assert.Equal(t, database.TaskCompleted, stored.Status)
	assert.True(t, stored.CompletionTime.Valid)
	assert.True(t, stored.StartTime.Valid)
	assert.False(t, stored.ErrorMessage.Valid)
	require.NotNil(t, stored.Result)
	assert.Equal(t, resultId, stored.Result.Id)
}

func TestFailPendingTask(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	task := createTask(t, db, database.TaskPending, "")

	require.NoError(t, database.FailTask(ctx, db, task.Id, "failed to enqueue task: broker down", uuid.NullUUID{}))

	stored, err := database.GetTask(ctx, db, task.Id)
	require.NoError(t, err)
	assert.Equal(t, database.TaskFailed, stored.Status)
	assert.Equal(t, "failed to enqueue task: broker down", stored.ErrorMessage.String)
	assert.True(t, stored.CompletionTime.Valid)
	assert.False(t, stored.ResultId.Valid)
}

func TestGetTaskNotFound(t *testing.T) {
	db := createDB(t)
	_, err := database.GetTask(context.Background(), db, uuid.New())
	assert.ErrorIs(t, err, database.ErrTaskNotFound)
}

func TestNotificationMarking(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	completed := createTask(t, db, database.TaskCompleted, "1001")
	failed := createTask(t, db, database.TaskFailed, "1002")
	createTask(t, db, database.TaskProcessing, "1003")
	createTask(t, db, database.TaskCompleted, "")

	tasks, err := database.ListUnnotifiedTasks(ctx, db, nil, 100)
	require.NoError(t, err)
	ids := []uuid.UUID{}
	for _, task := range tasks {
		ids = append(ids, task.Id)
		require.NotNil(t, task.Model)
	}
	assert.ElementsMatch(t, []uuid.UUID{completed.Id, failed.Id}, ids)

	marked, err := database.MarkTaskNotified(ctx, db, completed.Id)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = database.MarkTaskNotified(ctx, db, completed.Id)
	require.NoError(t, err)
	assert.False(t, marked, "notified_at is set at most once")

	tasks, err = database.ListUnnotifiedTasks(ctx, db, nil, 100)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, failed.Id, tasks[0].Id)
}

func TestMarkNonTerminalTaskNotified(t *testing.T) {
	db := createDB(t)
	task := createTask(t, db, database.TaskProcessing, "1001")

	marked, err := database.MarkTaskNotified(context.Background(), db, task.Id)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestFailStaleTasks(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	stale := createTask(t, db, database.TaskProcessing, "1001")
	require.NoError(t, db.Model(&database.Task{}).Where("id = ?", stale.Id).Update("start_time", time.Now().UTC().Add(-time.Hour)).Error)

	fresh := createTask(t, db, database.TaskPending, "1002")
	require.NoError(t, database.ClaimTask(ctx, db, fresh.Id))

	count, err := database.FailStaleTasks(ctx, db, time.Now().UTC().Add(-10*time.Minute), "task abandoned by worker")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	task, err := database.GetTask(ctx, db, stale.Id)
	require.NoError(t, err)
	assert.Equal(t, database.TaskFailed, task.Status)
	assert.Equal(t, "task abandoned by worker", task.ErrorMessage.String)
	assert.True(t, task.CompletionTime.Valid)

	task, err = database.GetTask(ctx, db, fresh.Id)
	require.NoError(t, err)
	assert.Equal(t, database.TaskProcessing, task.Status)
}

func TestListPendingTasks(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	pending := createTask(t, db, database.TaskPending, "")
	createTask(t, db, database.TaskProcessing, "")
	createTask(t, db, database.TaskCompleted, "")

	tasks, err := database.ListPendingTasks(ctx, db)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, pending.Id, tasks[0].Id)
}

func TestListUnnotifiedTasksPages(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		task := createTask(t, db, database.TaskFailed, "1001")
		// Two tasks share a completion time so the id breaks the tie.
		completed := base.Add(time.Duration(i/2) * time.Minute)
		require.NoError(t, db.Model(&database.Task{}).Where("id = ?", task.Id).Update("completion_time", completed).Error)
		want = append(want, task.Id)
	}

	var (
		got    []uuid.UUID
		cursor *database.NotificationCursor
	)
	for {
		page, err := database.ListUnnotifiedTasks(ctx, db, cursor, 2)
		require.NoError(t, err)
		for _, task := range page {
			got = append(got, task.Id)
		}
		if len(page) < 2 {
			break
		}
		cursor = database.CursorAfter(&page[len(page)-1])
	}

	assert.ElementsMatch(t, want, got)
	assert.Len(t, got, 5, "no task is returned twice")
}
