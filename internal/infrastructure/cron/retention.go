package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FireLogPruner deletes fire log rows older than a cutoff
type FireLogPruner interface {
	PruneFireLog(ctx context.Context, before time.Time) (int64, error)
}

// RetentionJob periodically prunes old fire log rows
type RetentionJob struct {
	pruner    FireLogPruner
	cron      *cron.Cron
	interval  time.Duration
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewRetentionJob creates a new retention job
func NewRetentionJob(pruner FireLogPruner, interval, retention time.Duration, log *zap.Logger) *RetentionJob {
	return &RetentionJob{
		pruner:    pruner,
		cron:      cron.New(),
		interval:  interval,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// Start registers the job and starts the scheduler
func (j *RetentionJob) Start() error {
	cronExpr := fmt.Sprintf("@every %s", j.interval.String())

	if _, err := j.cron.AddFunc(cronExpr, func() { _, _ = j.RunOnce() }); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	j.cron.Start()
	j.log.Info("fire log retention started",
		zap.Duration("interval", j.interval),
		zap.Duration("retention", j.retention),
	)
	return nil
}

// Stop stops the scheduler and waits for a running prune to finish
func (j *RetentionJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.log.Info("fire log retention stopped")
}

// RunOnce prunes rows fired before now minus the retention period
func (j *RetentionJob) RunOnce() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.pruner.PruneFireLog(ctx, cutoff)
	if err != nil {
		j.log.Error("failed to prune fire log", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}

	j.log.Debug("fire log pruned", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
	return deleted, nil
}
