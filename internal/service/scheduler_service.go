package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/pkg/calendar"
	"github.com/noah-isme/afterschool-ops-api/pkg/jobs"
)

// JobTypeMaterialize identifies materializer jobs on the queue.
const JobTypeMaterialize = "materialize"

type materializationRunner interface {
	Run(ctx context.Context, today time.Time) (*dto.MaterializeReport, error)
}

// SchedulerConfig tunes periodic materialization.
type SchedulerConfig struct {
	Interval   time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Location   *time.Location
}

// MaterializationScheduler queues materializer runs on a ticker and on demand.
// Runs for the same date are coalesced while one is pending.
type MaterializationScheduler struct {
	runner materializationRunner
	queue  *jobs.Queue
	cfg    SchedulerConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewMaterializationScheduler constructs the scheduler and its single-worker queue.
func NewMaterializationScheduler(runner materializationRunner, logger *zap.Logger, cfg SchedulerConfig) *MaterializationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &MaterializationScheduler{runner: runner, cfg: cfg, now: time.Now, logger: logger}
	s.queue = jobs.NewQueue("materializer", s.Handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 8,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Handle runs one queued materialization. A run with failed units is reported as an
// error so the queue retries it; reruns only fill what is still missing.
func (s *MaterializationScheduler) Handle(ctx context.Context, job jobs.Job) error {
	today, ok := job.Payload.(time.Time)
	if !ok {
		return fmt.Errorf("materialize job %s: unexpected payload %T", job.ID, job.Payload)
	}
	report, err := s.runner.Run(ctx, today)
	if err != nil {
		return err
	}
	if n := len(report.Failures); n > 0 {
		return fmt.Errorf("materialize %s: %d units failed", report.RunDate, n)
	}
	return nil
}

// Trigger queues a run for the current day. It reports false when a run for the
// same day is already pending.
func (s *MaterializationScheduler) Trigger() (bool, error) {
	today := s.now().In(s.cfg.Location)
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    JobTypeMaterialize,
		Key:     calendar.FormatDate(today),
		Payload: today,
	})
}

// Start launches the worker, queues an immediate run, then one per interval until
// ctx is done.
func (s *MaterializationScheduler) Start(ctx context.Context) {
	s.queue.Start(ctx)
	s.enqueue()
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.enqueue()
			}
		}
	}()
	s.logger.Info("materialization scheduler started", zap.Duration("interval", s.cfg.Interval))
}

// Stop waits for the worker to finish.
func (s *MaterializationScheduler) Stop() {
	s.queue.Stop()
}

func (s *MaterializationScheduler) enqueue() {
	queued, err := s.Trigger()
	if err != nil {
		s.logger.Warn("materialization enqueue failed", zap.Error(err))
		return
	}
	if !queued {
		s.logger.Debug("materialization already pending")
	}
}
