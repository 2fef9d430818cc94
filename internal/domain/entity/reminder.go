package entity

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownKind      = errors.New("unknown reminder kind")
	ErrInvalidClockTime = errors.New("invalid clock time")
	ErrInvalidWeekday   = errors.New("invalid weekday")
	ErrScheduleMismatch = errors.New("schedule does not match reminder kind")
)

// Kind is the closed set of reminder behaviors
type Kind string

const (
	KindWeight       Kind = "weight"
	KindMeal         Kind = "meal"
	KindCustomDaily  Kind = "custom_daily"
	KindCustomWeekly Kind = "custom_weekly"
	KindOneoff       Kind = "oneoff"
)

// ParseKind converts a stored kind value into a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindWeight, KindMeal, KindCustomDaily, KindCustomWeekly, KindOneoff:
		return true
	}
	return false
}

// IsDaily returns true for kinds that fire every day at their configured times
func (k Kind) IsDaily() bool {
	return k == KindWeight || k == KindMeal || k == KindCustomDaily
}

// Reminder is a read-only snapshot of a user's reminder configuration.
// Schedule and SnoozedUntil are filled by the repository per sweep.
type Reminder struct {
	ID       int64
	UserID   int64
	ChatID   int64
	Kind     Kind
	Enabled  bool
	Timezone string // IANA name
	Title    string

	Schedule     Schedule
	SnoozedUntil *time.Time
}

// IsSnoozed returns true while an active snooze suppresses the reminder
func (r *Reminder) IsSnoozed(now time.Time) bool {
	return r.SnoozedUntil != nil && r.SnoozedUntil.After(now)
}

// Location resolves the reminder's timezone
func (r *Reminder) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

// Schedule is the kind-specific payload of a reminder. The set of
// implementations is closed: DailySchedule, WeeklySchedule, OneoffSchedule.
type Schedule interface {
	accepts(k Kind) bool
}

// DailySchedule fires every local day at each of Times.
// Used by weight, meal and custom_daily reminders.
type DailySchedule struct {
	Times []ClockTime
}

func (DailySchedule) accepts(k Kind) bool { return k.IsDaily() }

// WeeklySchedule fires at each of Times on local days present in Weekdays
type WeeklySchedule struct {
	Times    []ClockTime
	Weekdays WeekdaySet
}

func (WeeklySchedule) accepts(k Kind) bool { return k == KindCustomWeekly }

// OneoffSchedule fires once at RunAt unless Fired is already set
type OneoffSchedule struct {
	RunAt time.Time // UTC
	Fired bool
}

func (OneoffSchedule) accepts(k Kind) bool { return k == KindOneoff }

// CheckSchedule verifies that the attached schedule variant belongs to the reminder's kind
func (r *Reminder) CheckSchedule() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	if r.Schedule == nil {
		return nil
	}
	if !r.Schedule.accepts(r.Kind) {
		return fmt.Errorf("%w: %s has %T", ErrScheduleMismatch, r.Kind, r.Schedule)
	}
	return nil
}

// ClockTime is a local wall-clock time of day
type ClockTime struct {
	Hour   int
	Minute int
}

// NewClockTime validates hour 0-23 and minute 0-59
func NewClockTime(hour, minute int) (ClockTime, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("%w: %02d:%02d", ErrInvalidClockTime, hour, minute)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant of c on the given local date in loc.
// Wall-clock times skipped by a DST gap are normalized forward by time.Date.
func (c ClockTime) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, c.Hour, c.Minute, 0, 0, loc)
}

// WeekdaySet holds ISO weekdays (Monday=1 .. Sunday=7) as a bitmask
type WeekdaySet uint8

// NewWeekdaySet builds a set from ISO weekday numbers
func NewWeekdaySet(days ...int) (WeekdaySet, error) {
	var s WeekdaySet
	for _, d := range days {
		if d < 1 || d > 7 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

// Has reports whether the Go weekday is in the set
func (s WeekdaySet) Has(wd time.Weekday) bool {
	return s&(1<<uint(ISOWeekday(wd))) != 0
}

// Days returns the ISO weekday numbers in ascending order
func (s WeekdaySet) Days() []int {
	var days []int
	for d := 1; d <= 7; d++ {
		if s&(1<<uint(d)) != 0 {
			days = append(days, d)
		}
	}
	return days
}

// ISOWeekday maps time.Weekday (Sunday=0) to ISO numbering (Monday=1, Sunday=7)
func ISOWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

// Snooze suppresses a reminder until UntilAt
type Snooze struct {
	ReminderID int64
	UntilAt    time.Time
}
