package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reminder-service/internal/domain/entity"
	"reminder-service/internal/domain/repository"
)

type reminderRepository struct {
	pool *pgxpool.Pool
}

// NewReminderRepository creates a new PostgreSQL reminder repository
func NewReminderRepository(pool *pgxpool.Pool) repository.ReminderRepository {
	return &reminderRepository{
		pool: pool,
	}
}

func (r *reminderRepository) ListEnabled(ctx context.Context) ([]*entity.Reminder, error) {
	query := `
		SELECT r.id, r.user_id, u.tg_id, r.kind::text, r.enabled, r.timezone, COALESCE(r.title, '')
		FROM reminders r
		JOIN users u ON u.id = r.user_id
		WHERE r.enabled = TRUE
		ORDER BY r.id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*entity.Reminder
	for rows.Next() {
		var (
			reminder entity.Reminder
			kind     string
		)
		if err := rows.Scan(
			&reminder.ID,
			&reminder.UserID,
			&reminder.ChatID,
			&kind,
			&reminder.Enabled,
			&reminder.Timezone,
			&reminder.Title,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		// Unknown kinds are kept and rejected per reminder during projection.
		reminder.Kind = entity.Kind(kind)
		reminders = append(reminders, &reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}

	return reminders, nil
}

func (r *reminderRepository) LoadSchedule(ctx context.Context, reminder *entity.Reminder) error {
	switch {
	case reminder.Kind.IsDaily():
		times, err := r.getTimes(ctx, reminder.ID)
		if err != nil {
			return err
		}
		reminder.Schedule = entity.DailySchedule{Times: times}

	case reminder.Kind == entity.KindCustomWeekly:
		times, err := r.getTimes(ctx, reminder.ID)
		if err != nil {
			return err
		}
		weekdays, err := r.getWeekdays(ctx, reminder.ID)
		if err != nil {
			return err
		}
		reminder.Schedule = entity.WeeklySchedule{Times: times, Weekdays: weekdays}

	case reminder.Kind == entity.KindOneoff:
		var oneoff entity.OneoffSchedule
		err := r.pool.QueryRow(ctx,
			`SELECT run_at, fired FROM reminder_oneoff WHERE reminder_id = $1`,
			reminder.ID,
		).Scan(&oneoff.RunAt, &oneoff.Fired)
		if errors.Is(err, pgx.ErrNoRows) {
			reminder.Schedule = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get oneoff schedule: %w", err)
		}
		oneoff.RunAt = oneoff.RunAt.UTC()
		reminder.Schedule = oneoff

	default:
		return fmt.Errorf("%w: %q", entity.ErrUnknownKind, reminder.Kind)
	}
	return nil
}

func (r *reminderRepository) getTimes(ctx context.Context, reminderID int64) ([]entity.ClockTime, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT hour, minute FROM reminder_times WHERE reminder_id = $1 ORDER BY hour, minute`,
		reminderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder times: %w", err)
	}
	defer rows.Close()

	var times []entity.ClockTime
	for rows.Next() {
		var hour, minute int16
		if err := rows.Scan(&hour, &minute); err != nil {
			return nil, fmt.Errorf("failed to scan reminder time: %w", err)
		}
		ct, err := entity.NewClockTime(int(hour), int(minute))
		if err != nil {
			return nil, err
		}
		times = append(times, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminder times: %w", err)
	}
	return times, nil
}

func (r *reminderRepository) getWeekdays(ctx context.Context, reminderID int64) (entity.WeekdaySet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT weekday FROM reminder_weekdays WHERE reminder_id = $1`,
		reminderID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to get reminder weekdays: %w", err)
	}
	defer rows.Close()

	var days []int
	for rows.Next() {
		var day int16
		if err := rows.Scan(&day); err != nil {
			return 0, fmt.Errorf("failed to scan reminder weekday: %w", err)
		}
		days = append(days, int(day))
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate reminder weekdays: %w", err)
	}
	return entity.NewWeekdaySet(days...)
}

func (r *reminderRepository) ActiveSnooze(ctx context.Context, reminderID int64, now time.Time) (*entity.Snooze, error) {
	query := `
		SELECT reminder_id, until_at
		FROM reminder_snoozes
		WHERE reminder_id = $1 AND until_at > $2
		ORDER BY until_at DESC
		LIMIT 1
	`

	var snooze entity.Snooze
	err := r.pool.QueryRow(ctx, query, reminderID, now.UTC()).Scan(&snooze.ReminderID, &snooze.UntilAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snooze: %w", err)
	}
	snooze.UntilAt = snooze.UntilAt.UTC()
	return &snooze, nil
}

const insertFireLog = `
	INSERT INTO reminder_logs (reminder_id, dedup_key, fired_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (reminder_id, dedup_key) DO NOTHING
`

func (r *reminderRepository) Claim(ctx context.Context, reminderID int64, dedupKey string, firedAt time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx, insertFireLog, reminderID, dedupKey, firedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert fire log: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *reminderRepository) ClaimAndRun(
	ctx context.Context,
	reminderID int64,
	dedupKey string,
	firedAt time.Time,
	fn func(ctx context.Context) error,
) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := tx.Exec(ctx, insertFireLog, reminderID, dedupKey, firedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert fire log: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if err := fn(ctx); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit claim: %w", err)
	}
	return true, nil
}

func (r *reminderRepository) FinalizeOneoffs(ctx context.Context, from, to time.Time, requireClaim bool) (int64, error) {
	query := `
		UPDATE reminder_oneoff o
		SET fired = TRUE
		FROM reminders r
		WHERE o.reminder_id = r.id
		  AND r.enabled = TRUE
		  AND o.fired = FALSE
		  AND o.run_at >= $1 AND o.run_at < $2
		  AND (NOT $3::boolean OR EXISTS (
		      SELECT 1 FROM reminder_logs l
		      WHERE l.reminder_id = o.reminder_id
		        AND l.dedup_key = to_char(o.run_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI')
		  ))
	`

	result, err := r.pool.Exec(ctx, query, from.UTC(), to.UTC(), requireClaim)
	if err != nil {
		return 0, fmt.Errorf("failed to mark oneoff reminders fired: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *reminderRepository) PruneFireLog(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM reminder_logs WHERE fired_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune fire log: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *reminderRepository) Close() error {
	r.pool.Close()
	return nil
}
