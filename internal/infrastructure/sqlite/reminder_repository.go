package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"reminder-service/internal/domain/entity"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ReminderRepository implements repository.ReminderRepository on an embedded SQLite database.
// Instants are stored as unix seconds.
type ReminderRepository struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the database at path, applies PRAGMAs and runs migrations
func OpenSQLite(ctx context.Context, path string) (*ReminderRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Single writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &ReminderRepository{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RunMigrations executes the embedded SQL files in name order, each in a single transaction
func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sqlBytes, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		if err != nil {
			return err
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

type reminderRow struct {
	ID       int64  `db:"id"`
	UserID   int64  `db:"user_id"`
	ChatID   int64  `db:"tg_id"`
	Kind     string `db:"kind"`
	Enabled  bool   `db:"enabled"`
	Timezone string `db:"timezone"`
	Title    string `db:"title"`
}

func (r *ReminderRepository) ListEnabled(ctx context.Context) ([]*entity.Reminder, error) {
	var rows []reminderRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT r.id, r.user_id, u.tg_id, r.kind, r.enabled, r.timezone, COALESCE(r.title, '') AS title
		FROM reminders r
		JOIN users u ON u.id = r.user_id
		WHERE r.enabled = 1
		ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled reminders: %w", err)
	}

	reminders := make([]*entity.Reminder, 0, len(rows))
	for _, row := range rows {
		reminders = append(reminders, &entity.Reminder{
			ID:       row.ID,
			UserID:   row.UserID,
			ChatID:   row.ChatID,
			Kind:     entity.Kind(row.Kind),
			Enabled:  row.Enabled,
			Timezone: row.Timezone,
			Title:    row.Title,
		})
	}
	return reminders, nil
}

func (r *ReminderRepository) LoadSchedule(ctx context.Context, reminder *entity.Reminder) error {
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
		var days []int
		if err := r.db.SelectContext(ctx, &days,
			`SELECT weekday FROM reminder_weekdays WHERE reminder_id = ?`, reminder.ID); err != nil {
			return fmt.Errorf("failed to get reminder weekdays: %w", err)
		}
		weekdays, err := entity.NewWeekdaySet(days...)
		if err != nil {
			return err
		}
		reminder.Schedule = entity.WeeklySchedule{Times: times, Weekdays: weekdays}

	case reminder.Kind == entity.KindOneoff:
		var row struct {
			RunAt int64 `db:"run_at"`
			Fired bool  `db:"fired"`
		}
		err := r.db.GetContext(ctx, &row,
			`SELECT run_at, fired FROM reminder_oneoff WHERE reminder_id = ?`, reminder.ID)
		if errors.Is(err, sql.ErrNoRows) {
			reminder.Schedule = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get oneoff schedule: %w", err)
		}
		reminder.Schedule = entity.OneoffSchedule{RunAt: time.Unix(row.RunAt, 0).UTC(), Fired: row.Fired}

	default:
		return fmt.Errorf("%w: %q", entity.ErrUnknownKind, reminder.Kind)
	}
	return nil
}

func (r *ReminderRepository) getTimes(ctx context.Context, reminderID int64) ([]entity.ClockTime, error) {
	var rows []struct {
		Hour   int `db:"hour"`
		Minute int `db:"minute"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT hour, minute FROM reminder_times WHERE reminder_id = ? ORDER BY hour, minute`, reminderID); err != nil {
		return nil, fmt.Errorf("failed to get reminder times: %w", err)
	}

	times := make([]entity.ClockTime, 0, len(rows))
	for _, row := range rows {
		ct, err := entity.NewClockTime(row.Hour, row.Minute)
		if err != nil {
			return nil, err
		}
		times = append(times, ct)
	}
	return times, nil
}

func (r *ReminderRepository) ActiveSnooze(ctx context.Context, reminderID int64, now time.Time) (*entity.Snooze, error) {
	var untilAt int64
	err := r.db.GetContext(ctx, &untilAt, `
		SELECT until_at FROM reminder_snoozes
		WHERE reminder_id = ? AND until_at > ?
		ORDER BY until_at DESC
		LIMIT 1`,
		reminderID, now.Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snooze: %w", err)
	}
	return &entity.Snooze{ReminderID: reminderID, UntilAt: time.Unix(untilAt, 0).UTC()}, nil
}

const insertFireLog = `
	INSERT INTO reminder_logs (reminder_id, dedup_key, fired_at)
	VALUES (?, ?, ?)
	ON CONFLICT (reminder_id, dedup_key) DO NOTHING`

func (r *ReminderRepository) Claim(ctx context.Context, reminderID int64, dedupKey string, firedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, insertFireLog, reminderID, dedupKey, firedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to insert fire log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read fire log result: %w", err)
	}
	return n == 1, nil
}

func (r *ReminderRepository) ClaimAndRun(
	ctx context.Context,
	reminderID int64,
	dedupKey string,
	firedAt time.Time,
	fn func(ctx context.Context) error,
) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, insertFireLog, reminderID, dedupKey, firedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to insert fire log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read fire log result: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := fn(ctx); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit claim: %w", err)
	}
	return true, nil
}

func (r *ReminderRepository) FinalizeOneoffs(ctx context.Context, from, to time.Time, requireClaim bool) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE reminder_oneoff
		SET fired = 1
		WHERE fired = 0
		  AND run_at >= ? AND run_at < ?
		  AND reminder_id IN (SELECT id FROM reminders WHERE enabled = 1)
		  AND (? = 0 OR EXISTS (
		      SELECT 1 FROM reminder_logs l
		      WHERE l.reminder_id = reminder_oneoff.reminder_id
		        AND l.dedup_key = strftime('%Y-%m-%dT%H:%M', reminder_oneoff.run_at, 'unixepoch')
		  ))`,
		ceilUnix(from), ceilUnix(to), requireClaim)
	if err != nil {
		return 0, fmt.Errorf("failed to mark oneoff reminders fired: %w", err)
	}
	return result.RowsAffected()
}

func (r *ReminderRepository) PruneFireLog(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reminder_logs WHERE fired_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune fire log: %w", err)
	}
	return result.RowsAffected()
}

// Close releases the underlying database resources
func (r *ReminderRepository) Close() error {
	return r.db.Close()
}

// ceilUnix rounds t up to whole seconds so integer run_at comparisons match
// the half-open window used by projection.
func ceilUnix(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}
