package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
)

// Locker serializes booking attempts for the same calendar interval. It only
// narrows the race window; the store's no-overlap constraint remains the
// authoritative guard against double-booking.
type Locker interface {
	WithIntervalLock(ctx context.Context, calendarID uuid.UUID, start time.Time, fn func(ctx context.Context) error) error
}

type redisIntervalLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIntervalLocker creates a locker keyed by calendar and interval start.
func NewRedisIntervalLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisIntervalLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisIntervalLocker) WithIntervalLock(ctx context.Context, calendarID uuid.UUID, start time.Time, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:calendar:%s:%d", calendarID.String(), start.Unix())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire booking lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisIntervalLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	return nil
}
