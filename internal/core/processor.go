package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/domospb/whoisalice/internal/core/utils"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/inference"
	"github.com/domospb/whoisalice/internal/messaging"
	"github.com/domospb/whoisalice/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// errDiscard marks handler failures that redelivery cannot fix.
var errDiscard = errors.New("message cannot be processed")

type ProcessorOptions struct {
	WorkerId string
	// Concurrency is the number of messages handled at once.
	Concurrency int
	// StageTimeout bounds every call to an inference backend.
	StageTimeout time.Duration
}

type TaskProcessor struct {
	db       *gorm.DB
	storage  storage.ObjectStore
	receiver messaging.Receiver

	transcriber inference.Transcriber
	generator   inference.Generator
	synthesizer inference.Synthesizer

	workerId     string
	concurrency  int
	stageTimeout time.Duration
}

func NewTaskProcessor(db *gorm.DB, storage storage.ObjectStore, receiver messaging.Receiver, backends *inference.Backends, opts ProcessorOptions) *TaskProcessor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 2 * time.Minute
	}
	return &TaskProcessor{
		db:           db,
		storage:      storage,
		receiver:     receiver,
		transcriber:  backends.STT,
		generator:    backends.Chat,
		synthesizer:  backends.TTS,
		workerId:     opts.WorkerId,
		concurrency:  opts.Concurrency,
		stageTimeout: opts.StageTimeout,
	}
}

// Start consumes tasks until ctx is cancelled or the receiver closes.
func (proc *TaskProcessor) Start(ctx context.Context) {
	slog.Info("starting task processor", "worker_id", proc.workerId, "concurrency", proc.concurrency)

	utils.RunInPool(ctx, proc.ProcessTask, proc.receiver.Tasks(), proc.concurrency)

	slog.Info("task processor stopped", "worker_id", proc.workerId)
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor", "worker_id", proc.workerId)
	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(ctx context.Context, task messaging.Task) {
	if task.Type() != messaging.PredictionQueue {
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	payload, err := messaging.DecodePayload(task.Payload())
	if err != nil {
		slog.Error("error decoding prediction task", "error", err)
		if err := task.Reject(); err != nil { // poison message, never requeue
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	err = proc.safeProcessPredictionTask(ctx, payload, task.Redelivered())

	switch {
	case err == nil:
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "task_id", payload.TaskId, "error", err)
		}
	case errors.Is(err, errDiscard):
		slog.Error("discarding prediction task", "task_id", payload.TaskId, "error", err)
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "task_id", payload.TaskId, "error", err)
		}
	default:
		slog.Error("error processing prediction task", "task_id", payload.TaskId, "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "task_id", payload.TaskId, "error", err)
		}
	}
}

func (proc *TaskProcessor) safeProcessPredictionTask(ctx context.Context, payload messaging.PredictionTaskPayload, redelivered bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing prediction task", "task_id", payload.TaskId, "panic", r, "stack", string(debug.Stack()))

			msg := fmt.Sprintf("unexpected error: %v", r)
			if failErr := database.FailTask(context.WithoutCancel(ctx), proc.db, payload.TaskId, msg, uuid.NullUUID{}); failErr != nil {
				slog.Error("error marking task failed after panic", "task_id", payload.TaskId, "error", failErr)
			}
			err = fmt.Errorf("panic processing task %s: %v", payload.TaskId, r)
		}
	}()

	return proc.processPredictionTask(ctx, payload, redelivered)
}

func (proc *TaskProcessor) processPredictionTask(ctx context.Context, payload messaging.PredictionTaskPayload, redelivered bool) error {
	slog.Info("processing prediction task", "task_id", payload.TaskId, "redelivered", redelivered, "worker_id", proc.workerId)

	task, err := database.GetTask(ctx, proc.db, payload.TaskId)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			return fmt.Errorf("task %s: %w: %w", payload.TaskId, err, errDiscard)
		}
		return err
	}

	if task.IsTerminal() {
		slog.Info("task already finished, skipping", "task_id", task.Id, "status", task.Status)
		return nil
	}

	if err := database.ClaimTask(ctx, proc.db, task.Id); err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			slog.Info("task finished concurrently, skipping", "task_id", task.Id)
			return nil
		}
		return err
	}

	if task.Model == nil {
		return proc.failTask(ctx, task, "model not found", uuid.NullUUID{})
	}

	wallet, err := database.GetWallet(ctx, proc.db, task.UserId)
	if err != nil {
		if errors.Is(err, database.ErrWalletNotFound) {
			return proc.failTask(ctx, task, err.Error(), uuid.NullUUID{})
		}
		return err
	}
	if wallet.Balance.LessThan(task.Model.CostPerPrediction) {
		msg := fmt.Sprintf("insufficient balance: balance %s, cost %s", wallet.Balance.StringFixed(2), task.Model.CostPerPrediction.StringFixed(2))
		return proc.failTask(ctx, task, msg, uuid.NullUUID{})
	}

	prediction, stageErr := proc.runPipeline(ctx, task)
	if stageErr != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the pipeline; leave the task to redelivery.
			return fmt.Errorf("task %s interrupted: %w", task.Id, stageErr)
		}
		if partial, ok := prediction.(*PartialPrediction); ok {
			return proc.finalizePartial(ctx, task, partial, stageErr)
		}
		return proc.failTask(ctx, task, stageErr.Error(), uuid.NullUUID{})
	}

	return proc.finalizeSuccess(ctx, task, prediction)
}

func (proc *TaskProcessor) failTask(ctx context.Context, task *database.Task, msg string, resultId uuid.NullUUID) error {
	slog.Warn("prediction task failed", "task_id", task.Id, "error", msg)
	if err := database.FailTask(context.WithoutCancel(ctx), proc.db, task.Id, msg, resultId); err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return nil
}

func (proc *TaskProcessor) debitDescription(task *database.Task) string {
	return fmt.Sprintf("ML prediction: %s (worker: %s)", task.Model.Name, proc.workerId)
}

// finalizeSuccess stores the result, charges the user and completes the task
// in one transaction. If the charge cannot be made nothing is stored and the
// task fails instead.
func (proc *TaskProcessor) finalizeSuccess(ctx context.Context, task *database.Task, prediction Prediction) error {
	data, err := EncodePrediction(prediction)
	if err != nil {
		return proc.failTask(ctx, task, err.Error(), uuid.NullUUID{})
	}

	ctx = context.WithoutCancel(ctx)
	err = proc.db.Transaction(func(txn *gorm.DB) error {
		result := &database.PredictionResult{PredictionData: data, ValidData: 1, InvalidData: 0}
		if err := database.SaveResult(ctx, txn, result); err != nil {
			return err
		}

		wallet, err := database.LockWallet(ctx, txn, task.UserId)
		if err != nil {
			return err
		}
		if _, err := database.Debit(ctx, txn, wallet, task.Model.CostPerPrediction, task.Id, proc.debitDescription(task)); err != nil {
			return err
		}

		return database.CompleteTask(ctx, txn, task.Id, result.Id)
	})

	switch {
	case err == nil:
		slog.Info("prediction task completed", "task_id", task.Id, "model", task.Model.Name, "cost", task.Model.CostPerPrediction.StringFixed(2))
		return nil
	case errors.Is(err, database.ErrInsufficientBalance):
		msg := fmt.Sprintf("insufficient balance: cost %s", task.Model.CostPerPrediction.StringFixed(2))
		return proc.failTask(ctx, task, msg, uuid.NullUUID{})
	case errors.Is(err, database.ErrAlreadyCharged), errors.Is(err, database.ErrInvalidTransition):
		slog.Info("task finalized by another worker", "task_id", task.Id, "error", err)
		return nil
	case errors.Is(err, database.ErrWalletNotFound):
		return proc.failTask(ctx, task, err.Error(), uuid.NullUUID{})
	default:
		return fmt.Errorf("error finalizing task %s: %w", task.Id, err)
	}
}

// finalizePartial keeps the upstream output of a task whose later stage
// failed. The task fails and nothing is charged.
func (proc *TaskProcessor) finalizePartial(ctx context.Context, task *database.Task, partial *PartialPrediction, stageErr error) error {
	partial.Error = stageErr.Error()
	data, err := EncodePrediction(partial)
	if err != nil {
		return proc.failTask(ctx, task, stageErr.Error(), uuid.NullUUID{})
	}

	ctx = context.WithoutCancel(ctx)
	err = proc.db.Transaction(func(txn *gorm.DB) error {
		result := &database.PredictionResult{PredictionData: data, ValidData: 0, InvalidData: 1}
		if err := database.SaveResult(ctx, txn, result); err != nil {
			return err
		}
		return database.FailTask(ctx, txn, task.Id, stageErr.Error(), uuid.NullUUID{UUID: result.Id, Valid: true})
	})
	if err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("error saving partial result for task %s: %w", task.Id, err)
	}

	slog.Warn("prediction task failed with partial result", "task_id", task.Id, "error", stageErr)
	return nil
}
