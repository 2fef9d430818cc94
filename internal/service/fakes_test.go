package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reminder-service/internal/domain/entity"
	"reminder-service/internal/domain/service"
)

// fakeRepo is an in-memory ReminderRepository
type fakeRepo struct {
	mu        sync.Mutex
	reminders []*entity.Reminder
	schedules map[int64]entity.Schedule
	snoozes   map[int64]time.Time
	fired     map[int64]bool
	fireLog   map[string]time.Time
	loadErr   map[int64]error
	listErr   error
	claimErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		schedules: make(map[int64]entity.Schedule),
		snoozes:   make(map[int64]time.Time),
		fired:     make(map[int64]bool),
		fireLog:   make(map[string]time.Time),
		loadErr:   make(map[int64]error),
	}
}

func (f *fakeRepo) add(r *entity.Reminder, s entity.Schedule) {
	f.reminders = append(f.reminders, r)
	f.schedules[r.ID] = s
}

func fireLogKey(reminderID int64, dedupKey string) string {
	return fmt.Sprintf("%d|%s", reminderID, dedupKey)
}

func (f *fakeRepo) claimed(reminderID int64, dedupKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.fireLog[fireLogKey(reminderID, dedupKey)]
	return ok
}

func (f *fakeRepo) ListEnabled(context.Context) ([]*entity.Reminder, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*entity.Reminder
	for _, r := range f.reminders {
		if r.Enabled {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) LoadSchedule(_ context.Context, r *entity.Reminder) error {
	if err := f.loadErr[r.ID]; err != nil {
		return err
	}
	s := f.schedules[r.ID]
	if o, ok := s.(entity.OneoffSchedule); ok {
		o.Fired = f.fired[r.ID]
		s = o
	}
	r.Schedule = s
	return nil
}

func (f *fakeRepo) ActiveSnooze(_ context.Context, reminderID int64, now time.Time) (*entity.Snooze, error) {
	until, ok := f.snoozes[reminderID]
	if !ok || !until.After(now) {
		return nil, nil
	}
	return &entity.Snooze{ReminderID: reminderID, UntilAt: until}, nil
}

func (f *fakeRepo) Claim(_ context.Context, reminderID int64, dedupKey string, firedAt time.Time) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fireLogKey(reminderID, dedupKey)
	if _, ok := f.fireLog[key]; ok {
		return false, nil
	}
	f.fireLog[key] = firedAt
	return true, nil
}

func (f *fakeRepo) ClaimAndRun(ctx context.Context, reminderID int64, dedupKey string, firedAt time.Time, fn func(ctx context.Context) error) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	key := fireLogKey(reminderID, dedupKey)
	f.mu.Lock()
	_, exists := f.fireLog[key]
	f.mu.Unlock()
	if exists {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		return false, err
	}
	f.mu.Lock()
	f.fireLog[key] = firedAt
	f.mu.Unlock()
	return true, nil
}

func (f *fakeRepo) FinalizeOneoffs(_ context.Context, from, to time.Time, requireClaim bool) (int64, error) {
	var n int64
	for _, r := range f.reminders {
		o, ok := f.schedules[r.ID].(entity.OneoffSchedule)
		if !ok || !r.Enabled || f.fired[r.ID] {
			continue
		}
		if o.RunAt.Before(from) || !o.RunAt.Before(to) {
			continue
		}
		if requireClaim && !f.claimed(r.ID, entity.DedupKey(o.RunAt)) {
			continue
		}
		f.fired[r.ID] = true
		n++
	}
	return n, nil
}

func (f *fakeRepo) PruneFireLog(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, at := range f.fireLog {
		if at.Before(before) {
			delete(f.fireLog, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) Close() error { return nil }

type published struct {
	key   string
	event entity.FireEvent
}

// fakePublisher records published events and fails while failing is set
type fakePublisher struct {
	mu       sync.Mutex
	events   []published
	failing  bool
	ctxError []error
}

func (p *fakePublisher) Publish(ctx context.Context, key string, event *entity.FireEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctxError = append(p.ctxError, ctx.Err())
	if p.failing {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, published{key: key, event: *event})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

// fakeMessenger returns queued errors in order, then succeeds
type fakeMessenger struct {
	mu     sync.Mutex
	errs   []error
	calls  []sentMessage
	onSend func(msg *entity.Message)
}

type sentMessage struct {
	msg entity.Message
	err error
}

func (m *fakeMessenger) Send(_ context.Context, msg *entity.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	m.calls = append(m.calls, sentMessage{msg: *msg, err: err})
	if m.onSend != nil {
		m.onSend(msg)
	}
	return err
}

func (m *fakeMessenger) successful() []entity.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Message
	for _, c := range m.calls {
		if c.err == nil {
			out = append(out, c.msg)
		}
	}
	return out
}

// fakeClock advances only when the code under test sleeps
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// sliceConsumer serves a fixed list of events, then reports ctx cancellation
type sliceConsumer struct {
	mu     sync.Mutex
	events []*entity.FireEvent
	acked  []string
	cancel context.CancelFunc
}

func (c *sliceConsumer) Fetch(ctx context.Context) (*service.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		if c.cancel != nil {
			c.cancel()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	e := c.events[0]
	c.events = c.events[1:]
	id := e.DedupKey
	return &service.Delivery{
		ID:    id,
		Event: e,
		Ack: func(context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.acked = append(c.acked, id)
			return nil
		},
	}, nil
}

func (c *sliceConsumer) Close() error { return nil }
