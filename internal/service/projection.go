package service

import (
	"fmt"
	"sort"
	"time"

	"reminder-service/internal/domain/entity"
)

// Window is the half-open interval [Start, End) evaluated by one sweep
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [now, now+width) in UTC
func NewWindow(now time.Time, width time.Duration) Window {
	start := now.UTC()
	return Window{Start: start, End: start.Add(width)}
}

// Contains reports whether t lies in the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ProjectOccurrences returns every UTC instant of the reminder that falls inside w.
//
// Recurring times are converted from the reminder's timezone on every call so a
// DST offset change is picked up without any cached state. The local dates of
// both window ends are evaluated, which matters when the window straddles local
// midnight. A snoozed reminder (SnoozedUntil after w.Start) yields nothing.
func ProjectOccurrences(r *entity.Reminder, w Window) ([]time.Time, error) {
	if err := r.CheckSchedule(); err != nil {
		return nil, err
	}
	if r.IsSnoozed(w.Start) {
		return nil, nil
	}

	switch s := r.Schedule.(type) {
	case nil:
		return nil, nil
	case entity.DailySchedule:
		return projectTimes(r, w, s.Times, nil)
	case entity.WeeklySchedule:
		days := s.Weekdays
		return projectTimes(r, w, s.Times, &days)
	case entity.OneoffSchedule:
		if s.Fired || !w.Contains(s.RunAt) {
			return nil, nil
		}
		return []time.Time{s.RunAt.UTC()}, nil
	default:
		return nil, fmt.Errorf("unsupported schedule %T", s)
	}
}

func projectTimes(r *entity.Reminder, w Window, times []entity.ClockTime, weekdays *entity.WeekdaySet) ([]time.Time, error) {
	if len(times) == 0 {
		return nil, nil
	}
	loc, err := r.Location()
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var out []time.Time
	for _, day := range localDates(w, loc) {
		if weekdays != nil && !weekdays.Has(day.Weekday()) {
			continue
		}
		for _, ct := range times {
			at := ct.On(day.Year(), day.Month(), day.Day(), loc).UTC()
			if !w.Contains(at) {
				continue
			}
			if _, dup := seen[at.Unix()]; dup {
				continue
			}
			seen[at.Unix()] = struct{}{}
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// localDates returns local noon of each distinct calendar date touched by w
func localDates(w Window, loc *time.Location) []time.Time {
	first := w.Start.In(loc)
	last := w.End.Add(-time.Nanosecond).In(loc)

	noon := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, loc)
	}
	dates := []time.Time{noon(first)}
	if last.YearDay() != first.YearDay() || last.Year() != first.Year() {
		dates = append(dates, noon(last))
	}
	return dates
}
