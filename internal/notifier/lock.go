package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TickLock keeps concurrent notifier instances from running the same tick.
type TickLock interface {
	// TryLock returns acquired=false without error when another holder has
	// the lock. The returned context is cancelled with ErrLockLost if the
	// lease cannot be kept; release must be called once the tick is done.
	TryLock(ctx context.Context) (lockCtx context.Context, release func(), acquired bool, err error)
}

var ErrLockLost = errors.New("notifier lock lost")

const tickLockKey = "whoisalice:notifier:tick"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ TickLock = (*RedisLock)(nil)

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLock{client: client, key: tickLockKey, ttl: ttl}
}

func NewRedisLockFromURL(url string, ttl time.Duration) (*RedisLock, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisLock(redis.NewClient(opts), ttl), nil
}

func (l *RedisLock) TryLock(ctx context.Context) (context.Context, func(), bool, error) {
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, false, fmt.Errorf("error acquiring notifier lock: %w", err)
	}
	if !acquired {
		return nil, nil, false, nil
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go l.keepAlive(lockCtx, cancel, token, done)

	release := func() {
		cancel(nil)
		<-done
		if err := releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{l.key}, token).Err(); err != nil {
			slog.Warn("error releasing notifier lock", "error", err)
		}
	}
	return lockCtx, release, true, nil
}

// keepAlive extends the lease every third of its ttl until ctx ends. If the
// key no longer holds token the tick is cancelled.
func (l *RedisLock) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, token string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := l.extend(ctx, token)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("error extending notifier lock", "error", err)
				continue
			}
			if !extended {
				slog.Error("notifier lock taken over by another instance")
				cancel(ErrLockLost)
				return
			}
		}
	}
}

func (l *RedisLock) extend(ctx context.Context, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLock) Close() error {
	return l.client.Close()
}
