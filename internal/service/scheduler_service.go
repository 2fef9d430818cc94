package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"reminder-service/internal/domain/entity"
	"reminder-service/internal/domain/repository"
	"reminder-service/internal/domain/service"
)

// DeliveryPolicy decides which side of the claim/publish gap is accepted
type DeliveryPolicy string

const (
	// PreferLoss commits the claim before publishing. A failed publish loses the occurrence.
	PreferLoss DeliveryPolicy = "prefer_loss"
	// PreferDuplicate keeps the claim uncommitted until publish succeeds.
	// A failed commit after a successful publish may duplicate the occurrence.
	PreferDuplicate DeliveryPolicy = "prefer_duplicate"
)

// ParseDeliveryPolicy validates a configured policy name
func ParseDeliveryPolicy(s string) (DeliveryPolicy, error) {
	switch p := DeliveryPolicy(s); p {
	case PreferLoss, PreferDuplicate:
		return p, nil
	case "":
		return PreferLoss, nil
	default:
		return "", fmt.Errorf("unknown delivery policy %q", s)
	}
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Window           Window
	Reminders        int
	Occurrences      int
	Published        int
	AlreadyClaimed   int
	PublishFailed    int
	ReminderFailures int
	OneoffsFinalized int64
}

// SchedulerOptions configures a SchedulerService
type SchedulerOptions struct {
	Window time.Duration
	Policy DeliveryPolicy
}

// SchedulerService projects due occurrences, claims them and publishes fire events
type SchedulerService struct {
	repo      repository.ReminderRepository
	publisher service.Publisher
	opts      SchedulerOptions
	log       *zap.Logger
	now       func() time.Time
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(
	repo repository.ReminderRepository,
	publisher service.Publisher,
	opts SchedulerOptions,
	log *zap.Logger,
) *SchedulerService {
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Policy == "" {
		opts.Policy = PreferLoss
	}
	return &SchedulerService{
		repo:      repo,
		publisher: publisher,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Run sweeps until ctx is canceled, waiting interval between the end of one
// sweep and the start of the next. Cancellation is only observed between sweeps.
func (s *SchedulerService) Run(ctx context.Context, interval time.Duration) {
	s.log.Info("scheduler started",
		zap.Duration("interval", interval),
		zap.Duration("window", s.opts.Window),
		zap.String("policy", string(s.opts.Policy)),
	)

	for {
		res, err := s.Sweep(context.WithoutCancel(ctx))
		if err != nil {
			s.log.Error("sweep failed", zap.Error(err))
		} else {
			s.logResult(res)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopping")
			return
		case <-timer.C:
		}
	}
}

// Sweep runs one poll cycle at the current instant
func (s *SchedulerService) Sweep(ctx context.Context) (SweepResult, error) {
	return s.SweepAt(ctx, s.now())
}

// SweepAt runs one poll cycle over the window [now, now+window).
// A failure of one reminder is logged and never stops the others.
func (s *SchedulerService) SweepAt(ctx context.Context, now time.Time) (SweepResult, error) {
	w := NewWindow(now, s.opts.Window)
	res := SweepResult{Window: w}

	reminders, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load enabled reminders: %w", err)
	}
	res.Reminders = len(reminders)

	for _, r := range reminders {
		if err := s.processReminder(ctx, r, w, &res); err != nil {
			res.ReminderFailures++
			s.log.Error("reminder skipped",
				zap.Int64("reminder_id", r.ID),
				zap.String("kind", string(r.Kind)),
				zap.Error(err),
			)
		}
	}

	finalized, err := s.repo.FinalizeOneoffs(ctx, w.Start, w.End, s.opts.Policy == PreferDuplicate)
	if err != nil {
		return res, fmt.Errorf("failed to finalize oneoff reminders: %w", err)
	}
	res.OneoffsFinalized = finalized

	return res, nil
}

func (s *SchedulerService) processReminder(ctx context.Context, r *entity.Reminder, w Window, res *SweepResult) error {
	if err := s.repo.LoadSchedule(ctx, r); err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}

	snooze, err := s.repo.ActiveSnooze(ctx, r.ID, w.Start)
	if err != nil {
		return fmt.Errorf("failed to load snooze: %w", err)
	}
	r.SnoozedUntil = nil
	if snooze != nil {
		until := snooze.UntilAt
		r.SnoozedUntil = &until
	}

	occurrences, err := ProjectOccurrences(r, w)
	if err != nil {
		return fmt.Errorf("failed to project occurrences: %w", err)
	}
	res.Occurrences += len(occurrences)

	for _, at := range occurrences {
		dedupKey := entity.DedupKey(at)
		event := BuildFireEvent(r, dedupKey)

		outcome, err := s.claimAndPublish(ctx, r, event, w.Start)
		if err != nil {
			return err
		}
		switch outcome {
		case claimPublished:
			res.Published++
		case claimConflict:
			res.AlreadyClaimed++
		case claimPublishFailed:
			res.PublishFailed++
		}
	}
	return nil
}

type claimOutcome int

const (
	claimPublished claimOutcome = iota
	claimConflict
	claimPublishFailed
)

type publishError struct{ err error }

func (e *publishError) Error() string { return "failed to publish fire event: " + e.err.Error() }
func (e *publishError) Unwrap() error { return e.err }

// claimAndPublish claims one occurrence and publishes its event according to the
// delivery policy. Only store failures are returned as errors.
func (s *SchedulerService) claimAndPublish(ctx context.Context, r *entity.Reminder, event *entity.FireEvent, firedAt time.Time) (claimOutcome, error) {
	key := strconv.FormatInt(r.UserID, 10)
	publish := func(ctx context.Context) error {
		if err := s.publisher.Publish(ctx, key, event); err != nil {
			return &publishError{err: err}
		}
		return nil
	}
	fields := []zap.Field{
		zap.Int64("reminder_id", r.ID),
		zap.Int64("chat_id", r.ChatID),
		zap.String("dedup_key", event.DedupKey),
	}

	if s.opts.Policy == PreferDuplicate {
		claimed, err := s.repo.ClaimAndRun(ctx, r.ID, event.DedupKey, firedAt, publish)
		var pubErr *publishError
		switch {
		case errors.As(err, &pubErr):
			s.log.Warn("publish failed, claim released for retry", append(fields, zap.Error(pubErr.err))...)
			return claimPublishFailed, nil
		case err != nil:
			return 0, fmt.Errorf("failed to claim %s: %w", event.DedupKey, err)
		case !claimed:
			return claimConflict, nil
		}
		s.log.Debug("fire event published", fields...)
		return claimPublished, nil
	}

	claimed, err := s.repo.Claim(ctx, r.ID, event.DedupKey, firedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to claim %s: %w", event.DedupKey, err)
	}
	if !claimed {
		return claimConflict, nil
	}
	if err := publish(ctx); err != nil {
		// The fire-log row stays, so no later sweep will retry this occurrence.
		s.log.Error("claimed occurrence was not published", append(fields, zap.Bool("lost", true), zap.Error(err))...)
		return claimPublishFailed, nil
	}
	s.log.Debug("fire event published", fields...)
	return claimPublished, nil
}

func (s *SchedulerService) logResult(res SweepResult) {
	level := s.log.Debug
	if res.Published > 0 || res.PublishFailed > 0 || res.ReminderFailures > 0 || res.OneoffsFinalized > 0 {
		level = s.log.Info
	}
	level("sweep completed",
		zap.Time("window_start", res.Window.Start),
		zap.Time("window_end", res.Window.End),
		zap.Int("reminders", res.Reminders),
		zap.Int("occurrences", res.Occurrences),
		zap.Int("published", res.Published),
		zap.Int("already_claimed", res.AlreadyClaimed),
		zap.Int("publish_failed", res.PublishFailed),
		zap.Int("reminder_failures", res.ReminderFailures),
		zap.Int64("oneoffs_finalized", res.OneoffsFinalized),
	)
}
