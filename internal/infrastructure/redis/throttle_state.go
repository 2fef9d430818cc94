package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const throttleKeyPrefix = "reminders:throttle:"

// ThrottleState stores per-chat last-send timestamps in Redis so pacing
// survives sender restarts. Entries expire after ttl, which must be at least
// the sender's minimum interval.
type ThrottleState struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewThrottleState creates a Redis-backed throttle state
func NewThrottleState(client redis.Cmdable, ttl time.Duration) *ThrottleState {
	if ttl < time.Second {
		ttl = time.Second
	}
	return &ThrottleState{
		client: client,
		ttl:    ttl,
	}
}

// LastSent returns the last recorded send to chatID
func (s *ThrottleState) LastSent(ctx context.Context, chatID int64) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, throttleKey(chatID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last send time: %w", err)
	}
	return time.UnixMilli(val), true, nil
}

// SetLastSent records a send to chatID
func (s *ThrottleState) SetLastSent(ctx context.Context, chatID int64, at time.Time) error {
	if err := s.client.Set(ctx, throttleKey(chatID), at.UnixMilli(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store last send time: %w", err)
	}
	return nil
}

func throttleKey(chatID int64) string {
	return throttleKeyPrefix + strconv.FormatInt(chatID, 10)
}
