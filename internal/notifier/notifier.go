package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/domospb/whoisalice/internal/channel"
	"github.com/domospb/whoisalice/internal/database"
	"github.com/domospb/whoisalice/internal/storage"

	"gorm.io/gorm"
)

const staleTaskMessage = "task abandoned by worker"

type Options struct {
	Interval  time.Duration
	BatchSize int
	// StaleTaskTimeout fails tasks stuck in processing for longer. Zero
	// disables the sweep.
	StaleTaskTimeout time.Duration
}

// Notifier pushes finished tasks back to the chat they came from.
type Notifier struct {
	db      *gorm.DB
	channel channel.Channel
	storage storage.ObjectStore
	lock    TickLock

	interval         time.Duration
	batchSize        int
	staleTaskTimeout time.Duration
}

// NewNotifier builds a notifier. lock may be nil for a single instance.
func NewNotifier(db *gorm.DB, ch channel.Channel, store storage.ObjectStore, lock TickLock, opts Options) *Notifier {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Notifier{
		db:               db,
		channel:          ch,
		storage:          store,
		lock:             lock,
		interval:         opts.Interval,
		batchSize:        opts.BatchSize,
		staleTaskTimeout: opts.StaleTaskTimeout,
	}
}

// Run ticks until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	slog.Info("task notification loop started", "interval", n.interval)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("task notification loop stopped")
			return
		case <-ticker.C:
			if _, err := n.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("notification tick failed", "error", err)
			}
		}
	}
}

// Tick sends every pending notification once and returns how many tasks
// were marked notified.
func (n *Notifier) Tick(ctx context.Context) (int, error) {
	if n.lock != nil {
		lockCtx, release, acquired, err := n.lock.TryLock(ctx)
		if err != nil {
			return 0, err
		}
		if !acquired {
			slog.Debug("another notifier holds the tick lock, skipping")
			return 0, nil
		}
		defer release()
		ctx = lockCtx
	}

	if n.staleTaskTimeout > 0 {
		cutoff := time.Now().UTC().Add(-n.staleTaskTimeout)
		failed, err := database.FailStaleTasks(ctx, n.db, cutoff, staleTaskMessage)
		if err != nil {
			slog.Error("error failing stale tasks", "error", err)
		} else if failed > 0 {
			slog.Warn("failed stale processing tasks", "count", failed, "timeout", n.staleTaskTimeout)
		}
	}

	notified := 0
	var cursor *database.NotificationCursor
	for {
		tasks, err := database.ListUnnotifiedTasks(ctx, n.db, cursor, n.batchSize)
		if err != nil {
			return notified, err
		}
		if len(tasks) > 0 {
			slog.Info("found pending notifications", "count", len(tasks))
		}

		for i := range tasks {
			if ctx.Err() != nil {
				return notified, context.Cause(ctx)
			}

			task := &tasks[i]
			if err := n.notify(ctx, task); err != nil {
				slog.Error("failed to send notification", "task_id", task.Id, "chat", task.ChannelAddress.String, "error", err)
				continue
			}
			notified++
		}

		if len(tasks) < n.batchSize {
			break
		}
		cursor = database.CursorAfter(&tasks[len(tasks)-1])
	}

	return notified, nil
}

func (n *Notifier) notify(ctx context.Context, task *database.Task) error {
	address := task.ChannelAddress.String

	if task.Status == database.TaskCompleted {
		if prediction := taskPrediction(task); prediction != nil && prediction.AudioKey() != "" {
			if err := n.sendVoice(ctx, task, address, prediction.AudioKey()); err != nil {
				slog.Warn("failed to send voice reply", "task_id", task.Id, "error", err)
			}
		}
	}

	if err := n.channel.SendText(ctx, address, BuildMessage(task)); err != nil {
		return err
	}

	// The message is out; record it even if shutdown started meanwhile.
	marked, err := database.MarkTaskNotified(context.WithoutCancel(ctx), n.db, task.Id)
	if err != nil {
		return fmt.Errorf("notification sent but not recorded: %w", err)
	}
	if !marked {
		slog.Warn("task was already marked notified", "task_id", task.Id)
	}

	slog.Info("sent notification", "task_id", task.Id, "chat", address, "status", task.Status)
	return nil
}

func (n *Notifier) sendVoice(ctx context.Context, task *database.Task, address, key string) error {
	audio, err := n.storage.GetObject(ctx, key)
	if err != nil {
		return err
	}
	defer audio.Close()

	return n.channel.SendVoice(ctx, address, voiceName(task, key), audio)
}
