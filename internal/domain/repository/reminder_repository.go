package repository

import (
	"context"
	"time"

	"reminder-service/internal/domain/entity"
)

// ReminderRepository defines the reminder store as seen by the scheduling core.
// Configuration is read-only here; the only writes are fire-log claims and the
// oneoff fired flag.
type ReminderRepository interface {
	// ListEnabled returns a snapshot of all enabled reminders joined with the owner's chat id
	ListEnabled(ctx context.Context) ([]*entity.Reminder, error)

	// LoadSchedule fills reminder.Schedule from the kind-specific tables.
	// A oneoff reminder without a schedule row gets a nil Schedule.
	LoadSchedule(ctx context.Context, reminder *entity.Reminder) error

	// ActiveSnooze returns the latest snooze still in effect at now, or nil
	ActiveSnooze(ctx context.Context, reminderID int64, now time.Time) (*entity.Snooze, error)

	// Claim inserts a fire-log row for (reminderID, dedupKey).
	// It returns false without error when the occurrence was already claimed.
	Claim(ctx context.Context, reminderID int64, dedupKey string, firedAt time.Time) (bool, error)

	// ClaimAndRun inserts the fire-log row inside a transaction, runs fn, and
	// commits only if fn succeeds. When fn fails the claim is rolled back and
	// the fn error is returned.
	ClaimAndRun(ctx context.Context, reminderID int64, dedupKey string, firedAt time.Time, fn func(ctx context.Context) error) (bool, error)

	// FinalizeOneoffs marks as fired every oneoff of an enabled reminder whose run_at is in [from, to).
	// With requireClaim only oneoffs whose occurrence has a fire-log row are marked.
	FinalizeOneoffs(ctx context.Context, from, to time.Time, requireClaim bool) (int64, error)

	// PruneFireLog deletes fire-log rows fired before the given instant
	PruneFireLog(ctx context.Context, before time.Time) (int64, error)

	// Close releases the underlying connections
	Close() error
}
