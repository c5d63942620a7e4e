package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	"github.com/noah-isme/afterschool-ops-api/pkg/calendar"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

type materializerProgramReader interface {
	ListRegular(ctx context.Context) ([]models.Program, error)
}

type materializerEnrollmentReader interface {
	FindActive(ctx context.Context, q models.EnrollmentQuery) ([]models.Enrollment, error)
	EarliestStartDate(ctx context.Context, programID string) (*time.Time, error)
}

type materializerSessionStore interface {
	FindLatest(ctx context.Context, programID string) (*models.Session, error)
	UpsertIfAbsent(ctx context.Context, session *models.Session) (*models.Session, bool, error)
}

// MaterializerConfig tunes the session materializer.
type MaterializerConfig struct {
	Concurrency            int
	BackfillFromEnrollment bool
	Location               *time.Location
}

// MaterializerService creates the sessions every regular program owes up to a run date.
type MaterializerService struct {
	programs    materializerProgramReader
	enrollments materializerEnrollmentReader
	sessions    materializerSessionStore
	cache       calendarInvalidator
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         MaterializerConfig
}

// NewMaterializerService constructs the materializer. cache may be nil.
func NewMaterializerService(programs materializerProgramReader, enrollments materializerEnrollmentReader, sessions materializerSessionStore, cache calendarInvalidator, metrics *MetricsService, logger *zap.Logger, cfg MaterializerConfig) *MaterializerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &MaterializerService{
		programs:    programs,
		enrollments: enrollments,
		sessions:    sessions,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

type runTally struct {
	mu       sync.Mutex
	report   dto.MaterializeReport
	created  map[string]int
	failures map[string]int
}

func (t *runTally) add(programID string, created, existing, skipped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case created:
		t.report.SessionsCreated++
		t.created[programID]++
	case existing:
		t.report.SessionsExisting++
	case skipped:
		t.report.SlotsSkipped++
	}
}

func (t *runTally) fail(f dto.MaterializeFailure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Failures = append(t.report.Failures, f)
	t.failures[f.ProgramID]++
}

// Run materializes every regular program through the calendar day of today in the
// configured zone. Failures of one program, date or slot are recorded in the report
// and do not stop the others. Only a failure to list programs aborts the run.
func (s *MaterializerService) Run(ctx context.Context, today time.Time) (*dto.MaterializeReport, error) {
	started := time.Now()
	runDate := calendar.Date(today.In(s.cfg.Location))

	programs, err := s.programs.ListRegular(ctx)
	if err != nil {
		return nil, fmt.Errorf("list regular programs: %w", err)
	}

	tally := &runTally{
		report: dto.MaterializeReport{
			RunDate:   calendar.FormatDate(runDate),
			Programs:  len(programs),
			Failures:  []dto.MaterializeFailure{},
			StartedAt: started.UTC(),
		},
		created:  make(map[string]int),
		failures: make(map[string]int),
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range programs {
		program := programs[i]
		g.Go(func() error {
			s.materializeProgram(ctx, program, runDate, tally)
			return nil
		})
	}
	_ = g.Wait()

	for _, program := range programs {
		created := tally.created[program.ID]
		s.metrics.RecordMaterialization(program.ID, created, tally.failures[program.ID])
		if created > 0 && s.cache != nil {
			_ = s.cache.Invalidate(ctx, CalendarCachePattern(program.ID))
		}
	}

	report := tally.report
	sort.Slice(report.Failures, func(i, j int) bool {
		a, b := report.Failures[i], report.Failures[j]
		if a.ProgramID != b.ProgramID {
			return a.ProgramID < b.ProgramID
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.StartTime < b.StartTime
	})
	report.FinishedAt = time.Now().UTC()
	s.metrics.ObserveMaterializationRun(time.Since(started))

	s.logger.Info("materialization finished",
		zap.String("run_date", report.RunDate),
		zap.Int("programs", report.Programs),
		zap.Int("created", report.SessionsCreated),
		zap.Int("existing", report.SessionsExisting),
		zap.Int("skipped", report.SlotsSkipped),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return &report, nil
}

// Refresh runs the materializer on demand. An explicit date is read as that calendar
// day in the configured zone; without one the run covers today.
func (s *MaterializerService) Refresh(ctx context.Context, req dto.MaterializeRequest) (*dto.MaterializeReport, error) {
	today := time.Now()
	if req.Date != "" {
		day, err := calendar.ParseDate(req.Date)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		today = time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, s.cfg.Location)
	}
	report, err := s.Run(ctx, today)
	if err != nil {
		return nil, appErrors.Internal(err, "materialization failed")
	}
	return report, nil
}

func (s *MaterializerService) materializeProgram(ctx context.Context, program models.Program, runDate time.Time, tally *runTally) {
	if err := program.Validate(); err != nil {
		s.recordFailure(tally, dto.MaterializeFailure{ProgramID: program.ID}, err)
		return
	}

	anchor, err := s.anchor(ctx, program.ID, runDate)
	if err != nil {
		s.recordFailure(tally, dto.MaterializeFailure{ProgramID: program.ID}, err)
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, date := range calendar.DatesSince(anchor, program.Weekdays, runDate) {
		for _, slot := range program.TimeSlots {
			date, slot := date, slot
			g.Go(func() error {
				created, skipped, err := s.materializeSlot(ctx, program.ID, date, slot)
				if err != nil {
					s.recordFailure(tally, dto.MaterializeFailure{
						ProgramID: program.ID,
						Date:      calendar.FormatDate(date),
						StartTime: slot.Start,
						EndTime:   slot.End,
					}, err)
					return nil
				}
				tally.add(program.ID, created, !created && !skipped, skipped)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// anchor is the first date to consider: the latest materialized session's date, else the
// earliest joined enrollment start when backfilling, else the run date.
func (s *MaterializerService) anchor(ctx context.Context, programID string, runDate time.Time) (time.Time, error) {
	latest, err := s.sessions.FindLatest(ctx, programID)
	if err != nil {
		return time.Time{}, fmt.Errorf("find latest session: %w", err)
	}
	if latest != nil {
		return calendar.Date(latest.Date), nil
	}
	if !s.cfg.BackfillFromEnrollment {
		return runDate, nil
	}
	earliest, err := s.enrollments.EarliestStartDate(ctx, programID)
	if err != nil {
		return time.Time{}, fmt.Errorf("earliest enrollment start: %w", err)
	}
	if earliest == nil {
		return runDate, nil
	}
	if start := calendar.Date(*earliest); start.Before(runDate) {
		return start, nil
	}
	return runDate, nil
}

func (s *MaterializerService) materializeSlot(ctx context.Context, programID string, date time.Time, slot models.TimeSlot) (created, skipped bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, false, err
	}
	enrollments, err := s.enrollments.FindActive(ctx, models.EnrollmentQuery{
		ProgramID:  programID,
		Weekday:    calendar.WeekdayOf(date),
		Slot:       slot,
		OnOrBefore: date,
	})
	if err != nil {
		return false, false, fmt.Errorf("find active enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return false, true, nil
	}

	hours, err := slot.Duration()
	if err != nil {
		return false, false, err
	}
	lines := make([]models.AttendanceLine, 0, len(enrollments))
	for _, enrollment := range enrollments {
		lines = append(lines, models.AttendanceLine{
			StudentID:     enrollment.StudentID,
			Attended:      true,
			HoursAttended: hours,
		})
	}

	_, created, err = s.sessions.UpsertIfAbsent(ctx, &models.Session{
		ProgramID:  programID,
		Date:       date,
		StartTime:  slot.Start,
		EndTime:    slot.End,
		Marked:     false,
		Attendance: lines,
	})
	if err != nil {
		return false, false, fmt.Errorf("upsert session: %w", err)
	}
	return created, false, nil
}

func (s *MaterializerService) recordFailure(tally *runTally, failure dto.MaterializeFailure, err error) {
	failure.Error = err.Error()
	tally.fail(failure)
	s.logger.Warn("materialization unit failed",
		zap.String("program_id", failure.ProgramID),
		zap.String("date", failure.Date),
		zap.String("start_time", failure.StartTime),
		zap.String("end_time", failure.EndTime),
		zap.Error(err),
	)
}
