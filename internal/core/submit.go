package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/domospb/whoisalice/internal/core/utils"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/messaging"
	"github.com/domospb/whoisalice/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	maxLockedWallets = 10000
	defaultAudioExt  = ".ogg"
)

type SubmitRequest struct {
	UserId    uuid.UUID
	ModelName string

	InputType  string
	OutputType string

	// Text is the prompt for text input.
	Text string

	// Audio and AudioExt carry the uploaded voice message for audio input.
	Audio    io.Reader
	AudioExt string

	// ChannelAddress is where the notifier delivers the outcome. Optional.
	ChannelAddress string
}

type Submitter struct {
	db        *gorm.DB
	publisher messaging.Publisher
	storage   storage.ObjectStore

	walletLocks *utils.MutexMap[uuid.UUID]
}

func NewSubmitter(db *gorm.DB, publisher messaging.Publisher, storage storage.ObjectStore) *Submitter {
	return &Submitter{
		db:          db,
		publisher:   publisher,
		storage:     storage,
		walletLocks: utils.NewMutexMap[uuid.UUID](maxLockedWallets),
	}
}

func validateRequest(req SubmitRequest) error {
	switch req.InputType {
	case database.DataText:
		if strings.TrimSpace(req.Text) == "" {
			return fmt.Errorf("text input is empty")
		}
	case database.DataAudio:
		if req.Audio == nil {
			return fmt.Errorf("audio input is missing")
		}
	default:
		return fmt.Errorf("unsupported input type %q", req.InputType)
	}

	if req.OutputType != database.DataText && req.OutputType != database.DataAudio {
		return fmt.Errorf("unsupported output type %q", req.OutputType)
	}
	return nil
}

// UploadKey is the storage key of the voice message uploaded for taskId.
func UploadKey(taskId uuid.UUID, ext string) string {
	if ext == "" {
		ext = defaultAudioExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(storage.UploadsPrefix, taskId.String()+strings.ToLower(ext))
}

// Submit admits a request against the user's balance, persists it as a
// pending task and enqueues it. Nothing is charged here; the worker debits on
// success.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*database.Task, error) {
	if err := validateRequest(req); err != nil {
		return nil, &AdmissionError{Reason: ReasonInvalidInput, Err: err}
	}

	model, err := database.GetActiveModelByName(ctx, s.db, req.ModelName)
	if err != nil {
		if errors.Is(err, database.ErrModelNotFound) {
			return nil, &AdmissionError{Reason: ReasonUnknownModel, Err: fmt.Errorf("model %q: %w", req.ModelName, err)}
		}
		return nil, err
	}

	wallet, err := database.GetWallet(ctx, s.db, req.UserId)
	if err != nil {
		if errors.Is(err, database.ErrWalletNotFound) {
			return nil, &AdmissionError{Reason: ReasonUnknownUser, Err: err}
		}
		return nil, err
	}

	task := &database.Task{
		Id:             uuid.New(),
		UserId:         req.UserId,
		ModelId:        model.Id,
		InputData:      req.Text,
		InputType:      req.InputType,
		OutputType:     req.OutputType,
		Status:         database.TaskPending,
		ChannelAddress: sql.NullString{String: req.ChannelAddress, Valid: req.ChannelAddress != ""},
		CreationTime:   time.Now().UTC(),
	}

	if req.InputType == database.DataAudio {
		task.InputData = UploadKey(task.Id, req.AudioExt)
		if err := s.storage.PutObject(ctx, task.InputData, req.Audio); err != nil {
			return nil, fmt.Errorf("error storing uploaded audio: %w", err)
		}
	}

	err = s.walletLocks.WithLock(wallet.Id, func() error {
		return s.db.Transaction(func(txn *gorm.DB) error {
			locked, err := database.LockWallet(ctx, txn, req.UserId)
			if err != nil {
				return err
			}

			if locked.Balance.LessThan(model.CostPerPrediction) {
				return &AdmissionError{
					Reason: ReasonInsufficientBalance,
					Err:    fmt.Errorf("balance %s, cost %s: %w", locked.Balance.StringFixed(2), model.CostPerPrediction.StringFixed(2), database.ErrInsufficientBalance),
				}
			}

			if err := txn.WithContext(ctx).Create(task).Error; err != nil {
				return fmt.Errorf("error creating task: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		if req.InputType == database.DataAudio {
			if err := s.storage.DeleteObject(context.WithoutCancel(ctx), task.InputData); err != nil {
				slog.Warn("error removing upload of rejected task", "key", task.InputData, "error", err)
			}
		}
		return nil, err
	}

	slog.Info("task created", "task_id", task.Id, "user_id", task.UserId, "model", model.Name, "input_type", task.InputType)

	payload := messaging.PredictionTaskPayload{
		TaskId:     task.Id,
		UserId:     task.UserId,
		ModelId:    task.ModelId,
		InputData:  task.InputData,
		InputType:  task.InputType,
		OutputType: task.OutputType,
	}
	if err := s.publisher.PublishPredictionTask(ctx, payload); err != nil {
		slog.Error("error publishing task", "task_id", task.Id, "error", err)

		msg := fmt.Sprintf("failed to enqueue task: %v", err)
		if failErr := database.FailTask(context.WithoutCancel(ctx), s.db, task.Id, msg, uuid.NullUUID{}); failErr != nil {
			slog.Error("error failing unpublished task", "task_id", task.Id, "error", failErr)
		}
		return nil, &PublishError{TaskId: task.Id, Err: err}
	}

	task.Model = model
	return task, nil
}

// TopUp credits amount to the user's wallet and returns the updated wallet.
func (s *Submitter) TopUp(ctx context.Context, userId uuid.UUID, amount decimal.Decimal, description string) (*database.Wallet, error) {
	wallet, err := database.GetWallet(ctx, s.db, userId)
	if err != nil {
		return nil, err
	}

	err = s.walletLocks.WithLock(wallet.Id, func() error {
		return s.db.Transaction(func(txn *gorm.DB) error {
			locked, err := database.LockWallet(ctx, txn, userId)
			if err != nil {
				return err
			}
			if _, err := database.Credit(ctx, txn, locked, amount, description); err != nil {
				return err
			}
			wallet = locked
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("wallet topped up", "user_id", userId, "amount", amount.StringFixed(2), "balance", wallet.Balance.StringFixed(2))
	return wallet, nil
}
