package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Only the owner token may release or extend a lock.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)
)

// ErrLockLost is returned by Unlock when the key expired or was taken over
// before release.
var ErrLockLost = errors.New("ticket lock lost before release")

// RedisLocker is a cross-process Locker using SET NX PX with an owner token.
// Held locks are renewed every ttl/3 until released.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl, retry time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: retry, logger: logger}
}

// Key returns the redis key guarding ticketID.
func (l *RedisLocker) Key(ticketID int64) string {
	return fmt.Sprintf("%sticket:%d", l.prefix, ticketID)
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, ticketID int64) (Unlock, error) {
	key := l.Key(ticketID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	renewCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go l.renew(renewCtx, key, token, done)

	var once sync.Once
	var unlockErr error
	return func() error {
		once.Do(func() {
			stop()
			<-done
			res, err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Int64()
			switch {
			case err != nil:
				unlockErr = fmt.Errorf("release %s: %w", key, err)
			case res == 0:
				l.logger.Warn("ticket lock expired before release", zap.String("key", key))
				unlockErr = ErrLockLost
			}
		})
		return unlockErr
	}, nil
}

func (l *RedisLocker) renew(ctx context.Context, key, token string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := renewScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn("ticket lock renewal failed", zap.String("key", key), zap.Error(err))
				}
				return
			}
			if res == 0 {
				l.logger.Warn("ticket lock lost, renewal stopped", zap.String("key", key))
				return
			}
		}
	}
}
