package service

import (
	"context"
	"sync"
	"time"

	"reminder-service/internal/domain/service"
)

// Throttle enforces a minimum interval between sends to the same chat.
// It is owned by a single SenderService and waits inline, so a throttled chat
// also delays every event queued behind it.
type Throttle struct {
	state       service.ThrottleState
	minInterval time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewThrottle creates a throttle over the given state
func NewThrottle(state service.ThrottleState, minInterval time.Duration) *Throttle {
	return &Throttle{
		state:       state,
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Wait sleeps for whatever remains of the minimum interval since the last send to chatID
func (t *Throttle) Wait(ctx context.Context, chatID int64) error {
	last, ok, err := t.state.LastSent(ctx, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if elapsed := t.now().Sub(last); elapsed < t.minInterval {
		return t.sleep(ctx, t.minInterval-elapsed)
	}
	return nil
}

// MarkSent records a successful send to chatID at the current instant
func (t *Throttle) MarkSent(ctx context.Context, chatID int64) error {
	return t.state.SetLastSent(ctx, chatID, t.now())
}

// MemoryThrottleState keeps last-send timestamps in process memory
type MemoryThrottleState struct {
	mu   sync.Mutex
	last map[int64]time.Time
}

// NewMemoryThrottleState creates an empty in-memory throttle state
func NewMemoryThrottleState() *MemoryThrottleState {
	return &MemoryThrottleState{last: make(map[int64]time.Time)}
}

func (m *MemoryThrottleState) LastSent(_ context.Context, chatID int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[chatID]
	return t, ok, nil
}

func (m *MemoryThrottleState) SetLastSent(_ context.Context, chatID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[chatID] = at
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
