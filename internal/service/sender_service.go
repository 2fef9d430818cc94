package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"reminder-service/internal/domain/entity"
	"reminder-service/internal/domain/service"
)

// SenderOptions configures a SenderService
type SenderOptions struct {
	// RateLimitMargin is added to the provider's retry-after before retrying
	RateLimitMargin time.Duration
	// MaxRetries bounds retries of unclassified send errors; rate limits are retried without bound
	MaxRetries   int
	RetryBackoff time.Duration
	// FetchBackoff is the pause after a failed bus read
	FetchBackoff time.Duration
}

// SenderService consumes fire events and delivers them to the messaging API
type SenderService struct {
	consumer  service.Consumer
	messenger service.Messenger
	throttle  *Throttle
	opts      SenderOptions
	log       *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewSenderService creates a new sender service
func NewSenderService(
	consumer service.Consumer,
	messenger service.Messenger,
	throttle *Throttle,
	opts SenderOptions,
	log *zap.Logger,
) *SenderService {
	if opts.FetchBackoff <= 0 {
		opts.FetchBackoff = time.Second
	}
	return &SenderService{
		consumer:  consumer,
		messenger: messenger,
		throttle:  throttle,
		opts:      opts,
		log:       log,
		sleep:     sleepContext,
	}
}

// Run consumes events until ctx is canceled. Each event is delivered to a
// terminal state and only then acknowledged; cancellation takes effect between events.
func (s *SenderService) Run(ctx context.Context) error {
	s.log.Info("sender started")

	for {
		if ctx.Err() != nil {
			s.log.Info("sender stopping")
			return nil
		}

		d, err := s.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("sender stopping")
				return nil
			}
			s.log.Error("failed to fetch fire event", zap.Error(err))
			_ = s.sleep(ctx, s.opts.FetchBackoff)
			continue
		}

		opCtx := context.WithoutCancel(ctx)
		outcome := s.Deliver(opCtx, d.Event)
		s.log.Debug("fire event handled",
			zap.String("event_id", d.ID),
			zap.Int64("reminder_id", d.Event.ReminderID),
			zap.String("dedup_key", d.Event.DedupKey),
			zap.String("outcome", string(outcome)),
		)

		if d.Ack != nil {
			if err := d.Ack(opCtx); err != nil {
				s.log.Error("failed to acknowledge fire event",
					zap.String("event_id", d.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// Deliver sends one event, retrying provider throttling and transient errors.
// It returns DeliverySent or DeliveryDropped.
func (s *SenderService) Deliver(ctx context.Context, event *entity.FireEvent) entity.DeliveryOutcome {
	msg := event.Message()
	log := s.log.With(
		zap.Int64("chat_id", event.ChatID),
		zap.Int64("reminder_id", event.ReminderID),
		zap.String("dedup_key", event.DedupKey),
	)

	failures := 0
	for {
		if err := s.throttle.Wait(ctx, event.ChatID); err != nil {
			log.Warn("throttle check failed, sending without pacing", zap.Error(err))
		}

		err := s.messenger.Send(ctx, msg)
		if err == nil {
			if err := s.throttle.MarkSent(ctx, event.ChatID); err != nil {
				log.Warn("failed to record send time", zap.Error(err))
			}
			return entity.DeliverySent
		}

		var rateLimited *entity.RateLimitError
		switch {
		case errors.As(err, &rateLimited):
			wait := rateLimited.RetryAfter + s.opts.RateLimitMargin
			log.Warn("rate limited, retrying", zap.Duration("wait", wait))
			if err := s.sleep(ctx, wait); err != nil {
				log.Error("fire event dropped", zap.String("reason", "interrupted"), zap.Error(err))
				return entity.DeliveryDropped
			}

		case errors.Is(err, entity.ErrForbidden):
			log.Warn("fire event dropped", zap.String("reason", "forbidden"), zap.Error(err))
			return entity.DeliveryDropped

		default:
			failures++
			if failures > s.opts.MaxRetries {
				log.Error("fire event dropped",
					zap.String("reason", "retries_exhausted"),
					zap.Int("attempts", failures),
					zap.Error(err),
				)
				return entity.DeliveryDropped
			}
			wait := s.opts.RetryBackoff << (failures - 1)
			log.Warn("send failed, retrying", zap.Int("attempt", failures), zap.Duration("wait", wait), zap.Error(err))
			if err := s.sleep(ctx, wait); err != nil {
				log.Error("fire event dropped", zap.String("reason", "interrupted"), zap.Error(err))
				return entity.DeliveryDropped
			}
		}
	}
}
