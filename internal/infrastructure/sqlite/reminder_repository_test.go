package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/domain/entity"
)

func openTestRepo(t *testing.T) *ReminderRepository {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func mustExec(t *testing.T, repo *ReminderRepository, query string, args ...any) int64 {
	t.Helper()
	res, err := repo.db.Exec(query, args...)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedUser(t *testing.T, repo *ReminderRepository, tgID int64) int64 {
	return mustExec(t, repo, `INSERT INTO users (tg_id) VALUES (?)`, tgID)
}

func seedReminder(t *testing.T, repo *ReminderRepository, userID int64, kind entity.Kind, enabled bool, tz string, title any) int64 {
	return mustExec(t, repo,
		`INSERT INTO reminders (user_id, kind, enabled, timezone, title) VALUES (?, ?, ?, ?, ?)`,
		userID, string(kind), enabled, tz, title)
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reminders.db")
	repo, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}

func TestListEnabled(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	user := seedUser(t, repo, 555)
	enabled := seedReminder(t, repo, user, entity.KindWeight, true, "Europe/Moscow", nil)
	seedReminder(t, repo, user, entity.KindMeal, false, "UTC", nil)
	titled := seedReminder(t, repo, user, entity.KindOneoff, true, "UTC", "Dentist")

	reminders, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 2)

	assert.Equal(t, enabled, reminders[0].ID)
	assert.Equal(t, user, reminders[0].UserID)
	assert.Equal(t, int64(555), reminders[0].ChatID)
	assert.Equal(t, entity.KindWeight, reminders[0].Kind)
	assert.Equal(t, "Europe/Moscow", reminders[0].Timezone)
	assert.Empty(t, reminders[0].Title)
	assert.True(t, reminders[0].Enabled)

	assert.Equal(t, titled, reminders[1].ID)
	assert.Equal(t, "Dentist", reminders[1].Title)
}

func TestLoadSchedule(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := seedUser(t, repo, 1)

	daily := seedReminder(t, repo, user, entity.KindMeal, true, "UTC", nil)
	mustExec(t, repo, `INSERT INTO reminder_times (reminder_id, hour, minute) VALUES (?, 13, 0), (?, 8, 30)`, daily, daily)

	weekly := seedReminder(t, repo, user, entity.KindCustomWeekly, true, "UTC", "Gym")
	mustExec(t, repo, `INSERT INTO reminder_times (reminder_id, hour, minute) VALUES (?, 19, 0)`, weekly)
	mustExec(t, repo, `INSERT INTO reminder_weekdays (reminder_id, weekday) VALUES (?, 1), (?, 3), (?, 5)`, weekly, weekly, weekly)

	runAt := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)
	oneoff := seedReminder(t, repo, user, entity.KindOneoff, true, "UTC", nil)
	mustExec(t, repo, `INSERT INTO reminder_oneoff (reminder_id, run_at) VALUES (?, ?)`, oneoff, runAt.Unix())

	orphan := seedReminder(t, repo, user, entity.KindOneoff, true, "UTC", nil)

	r := &entity.Reminder{ID: daily, Kind: entity.KindMeal}
	require.NoError(t, repo.LoadSchedule(ctx, r))
	assert.Equal(t, entity.DailySchedule{Times: []entity.ClockTime{{Hour: 8, Minute: 30}, {Hour: 13}}}, r.Schedule)

	r = &entity.Reminder{ID: weekly, Kind: entity.KindCustomWeekly}
	require.NoError(t, repo.LoadSchedule(ctx, r))
	ws, ok := r.Schedule.(entity.WeeklySchedule)
	require.True(t, ok)
	assert.Equal(t, []entity.ClockTime{{Hour: 19}}, ws.Times)
	assert.Equal(t, []int{1, 3, 5}, ws.Weekdays.Days())

	r = &entity.Reminder{ID: oneoff, Kind: entity.KindOneoff}
	require.NoError(t, repo.LoadSchedule(ctx, r))
	assert.Equal(t, entity.OneoffSchedule{RunAt: runAt}, r.Schedule)

	r = &entity.Reminder{ID: orphan, Kind: entity.KindOneoff}
	require.NoError(t, repo.LoadSchedule(ctx, r))
	assert.Nil(t, r.Schedule)

	err := repo.LoadSchedule(ctx, &entity.Reminder{ID: daily, Kind: "hourly"})
	assert.ErrorIs(t, err, entity.ErrUnknownKind)
}

func TestActiveSnooze(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := seedUser(t, repo, 1)
	id := seedReminder(t, repo, user, entity.KindWeight, true, "UTC", nil)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	snooze, err := repo.ActiveSnooze(ctx, id, now)
	require.NoError(t, err)
	assert.Nil(t, snooze)

	mustExec(t, repo, `INSERT INTO reminder_snoozes (reminder_id, until_at) VALUES (?, ?)`, id, now.Add(-time.Minute).Unix())
	mustExec(t, repo, `INSERT INTO reminder_snoozes (reminder_id, until_at) VALUES (?, ?)`, id, now.Add(15*time.Minute).Unix())
	mustExec(t, repo, `INSERT INTO reminder_snoozes (reminder_id, until_at) VALUES (?, ?)`, id, now.Add(30*time.Minute).Unix())

	snooze, err = repo.ActiveSnooze(ctx, id, now)
	require.NoError(t, err)
	require.NotNil(t, snooze)
	assert.Equal(t, now.Add(30*time.Minute), snooze.UntilAt)
}

func TestClaimIsIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := seedUser(t, repo, 1)
	id := seedReminder(t, repo, user, entity.KindWeight, true, "UTC", nil)
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

	claimed, err := repo.Claim(ctx, id, "2025-03-10T06:00", now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Claim(ctx, id, "2025-03-10T06:00", now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same occurrence loses")

	claimed, err = repo.Claim(ctx, id, "2025-03-10T07:00", now)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimAndRun(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := seedUser(t, repo, 1)
	id := seedReminder(t, repo, user, entity.KindWeight, true, "UTC", nil)
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	key := "2025-03-10T06:00"

	publishErr := errors.New("broker down")
	claimed, err := repo.ClaimAndRun(ctx, id, key, now, func(context.Context) error { return publishErr })
	assert.ErrorIs(t, err, publishErr)
	assert.False(t, claimed)

	calls := 0
	claimed, err = repo.ClaimAndRun(ctx, id, key, now, func(context.Context) error { calls++; return nil })
	require.NoError(t, err)
	assert.True(t, claimed, "rolled back claim can be taken again")
	assert.Equal(t, 1, calls)

	claimed, err = repo.ClaimAndRun(ctx, id, key, now, func(context.Context) error { calls++; return nil })
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 1, calls, "fn does not run for an existing claim")
}

func TestFinalizeOneoffs(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := seedUser(t, repo, 1)
	runAt := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)

	inWindow := seedReminder(t, repo, user, entity.KindOneoff, true, "UTC", nil)
	mustExec(t, repo, `INSERT INTO reminder_oneoff (reminder_id, run_at) VALUES (?, ?)`, inWindow, runAt.Unix())

	later := seedReminder(t, repo, user, entity.KindOneoff, true, "UTC", nil)
	mustExec(t, repo, `INSERT INTO reminder_oneoff (reminder_id, run_at) VALUES (?, ?)`, later, runAt.Add(time.Hour).Unix())

	disabled := seedReminder(t, repo, user, entity.KindOneoff, false, "UTC", nil)
	mustExec(t, repo, `INSERT INTO reminder_oneoff (reminder_id, run_at) VALUES (?, ?)`, disabled, runAt.Unix())

	from, to := runAt.Add(-30*time.Second), runAt.Add(30*time.Second)

	n, err := repo.FinalizeOneoffs(ctx, from, to, true)
	require.NoError(t, err)
	assert.Zero(t, n, "no claim yet")

	_, err = repo.Claim(ctx, inWindow, entity.DedupKey(runAt), from)
	require.NoError(t, err)

	n, err = repo.FinalizeOneoffs(ctx, from, to, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.FinalizeOneoffs(ctx, from, to, false)
	require.NoError(t, err)
	assert.Zero(t, n, "already fired")

	r := &entity.Reminder{ID: inWindow, Kind: entity.KindOneoff}
	require.NoError(t, repo.LoadSchedule(ctx, r))
	assert.True(t, r.Schedule.(entity.OneoffSchedule).Fired)
}

func TestFinalizeOneoffsWithoutClaim(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := seedUser(t, repo, 1)
	runAt := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)

	id := seedReminder(t, repo, user, entity.KindOneoff, true, "UTC", nil)
	mustExec(t, repo, `INSERT INTO reminder_oneoff (reminder_id, run_at) VALUES (?, ?)`, id, runAt.Unix())

	// The window end is exclusive.
	n, err := repo.FinalizeOneoffs(ctx, runAt.Add(-time.Minute), runAt, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.FinalizeOneoffs(ctx, runAt, runAt.Add(time.Minute), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPruneFireLog(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := seedUser(t, repo, 1)
	id := seedReminder(t, repo, user, entity.KindWeight, true, "UTC", nil)
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

	_, err := repo.Claim(ctx, id, "old", now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = repo.Claim(ctx, id, "new", now)
	require.NoError(t, err)

	n, err := repo.PruneFireLog(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claimed, err := repo.Claim(ctx, id, "new", now)
	require.NoError(t, err)
	assert.False(t, claimed)
}
