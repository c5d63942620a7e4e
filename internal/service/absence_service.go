package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	"github.com/noah-isme/afterschool-ops-api/pkg/calendar"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

type programLookup interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
}

type absenceSessionStore interface {
	Overwrite(ctx context.Context, session *models.Session, rule models.BalanceRule) (*models.Session, error)
}

// AbsenceService records staff-authored makeup sessions outside the weekly cadence.
type AbsenceService struct {
	programs  programLookup
	sessions  absenceSessionStore
	cache     calendarInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAbsenceService constructs the service.
func NewAbsenceService(programs programLookup, sessions absenceSessionStore, cache calendarInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AbsenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AbsenceService{
		programs:  programs,
		sessions:  sessions,
		cache:     cache,
		metrics:   metrics,
		validator: newValidator(validate),
		logger:    logger,
	}
}

// Submit creates the session at (program, date, slot) or fully replaces the one
// already there, moving each affected balance by the change in its hours.
func (s *AbsenceService) Submit(ctx context.Context, req dto.AbsenceRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	date, err := calendar.ParseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	slot := models.TimeSlot{Start: req.StartTime, End: req.EndTime}
	duration, err := slotHours(slot)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		ids[i] = line.StudentID
	}
	if err := ensureUniqueStudents(ids); err != nil {
		return nil, err
	}

	if _, err := s.programs.FindByID(ctx, req.ProgramID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrProgramNotFound
		}
		return nil, appErrors.Internal(err, "failed to load program")
	}

	lines := make([]models.AttendanceLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		attended, hours, err := resolveHours(line.Attended, line.HoursAttended, duration)
		if err != nil {
			return nil, err
		}
		lines = append(lines, models.AttendanceLine{StudentID: line.StudentID, Attended: attended, HoursAttended: hours})
	}

	marked := true
	if req.Marked != nil {
		marked = *req.Marked
	}
	session, err := s.sessions.Overwrite(ctx, &models.Session{
		ProgramID:  req.ProgramID,
		Date:       date,
		StartTime:  slot.Start,
		EndTime:    slot.End,
		Marked:     marked,
		Attendance: lines,
	}, models.RestoreAndApply)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		s.logger.Error("absence overwrite failed", zap.String("program_id", req.ProgramID), zap.String("date", req.Date), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to save absence session")
	}

	s.metrics.RecordAttendanceEdit(EditKindAbsence)
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, CalendarCachePattern(req.ProgramID))
	}
	s.logger.Info("absence session saved",
		zap.String("session_id", session.ID),
		zap.String("program_id", req.ProgramID),
		zap.String("date", req.Date),
		zap.String("slot", slot.String()),
	)
	return session, nil
}
