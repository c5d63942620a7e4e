package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

const (
	defaultUnmarkedLimit = 50
)

type attendanceSessionStore interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	ListUnmarked(ctx context.Context, limit int) ([]models.Session, error)
	ApplyAttendance(ctx context.Context, sessionID string, edits []models.AttendanceEdit, mark bool, rule models.BalanceRule) (*models.Session, error)
}

type calendarInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// AttendanceService is the attendance ledger: it applies staff corrections to
// session lines and keeps enrollment balances reconciled with them.
type AttendanceService struct {
	sessions  attendanceSessionStore
	cache     calendarInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs the attendance ledger.
func NewAttendanceService(sessions attendanceSessionStore, cache calendarInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		sessions:  sessions,
		cache:     cache,
		metrics:   metrics,
		validator: newValidator(validate),
		logger:    logger,
	}
}

// Get returns a session with its attendance lines. Ids that are not UUIDs cannot
// name a stored session and are reported as not found.
func (s *AttendanceService) Get(ctx context.Context, id string) (*models.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.ErrSessionNotFound
	}
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Internal(err, "failed to load session")
	}
	return session, nil
}

// ListUnmarked returns sessions still awaiting confirmation, newest first.
func (s *AttendanceService) ListUnmarked(ctx context.Context, query dto.UnmarkedSessionsQuery) ([]models.Session, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, validationError(err)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultUnmarkedLimit
	}
	sessions, err := s.sessions.ListUnmarked(ctx, limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list unmarked sessions")
	}
	return sessions, nil
}

// MarkSession applies every supplied correction in one transaction and flags the
// session as confirmed. Students left out keep their current lines.
func (s *AttendanceService) MarkSession(ctx context.Context, sessionID string, req dto.MarkAttendanceRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	ids := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		ids[i] = line.StudentID
	}
	if err := ensureUniqueStudents(ids); err != nil {
		return nil, err
	}

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	duration, err := slotHours(session.Slot())
	if err != nil {
		return nil, err
	}

	edits := make([]models.AttendanceEdit, 0, len(req.Lines))
	for _, line := range req.Lines {
		attended, hours, err := resolveHours(line.Attended, line.HoursAttended, duration)
		if err != nil {
			return nil, err
		}
		edits = append(edits, models.AttendanceEdit{StudentID: line.StudentID, Attended: attended, HoursAttended: hours})
	}
	return s.apply(ctx, session, edits, true, EditKindMark)
}

// EditLine corrects one student's line; the session's marked flag is left as is.
func (s *AttendanceService) EditLine(ctx context.Context, sessionID, studentID string, req dto.EditAttendanceRequest) (*models.Session, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	duration, err := slotHours(session.Slot())
	if err != nil {
		return nil, err
	}
	attended, hours, err := resolveHours(req.Attended, req.HoursAttended, duration)
	if err != nil {
		return nil, err
	}
	edit := models.AttendanceEdit{StudentID: studentID, Attended: attended, HoursAttended: hours}
	return s.apply(ctx, session, []models.AttendanceEdit{edit}, false, EditKindLine)
}

func (s *AttendanceService) apply(ctx context.Context, session *models.Session, edits []models.AttendanceEdit, mark bool, kind string) (*models.Session, error) {
	updated, err := s.sessions.ApplyAttendance(ctx, session.ID, edits, mark, models.RestoreAndApply)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		s.logger.Error("apply attendance failed", zap.String("session_id", session.ID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to apply attendance")
	}
	s.metrics.RecordAttendanceEdit(kind)
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, CalendarCachePattern(session.ProgramID))
	}
	s.logger.Info("attendance applied",
		zap.String("session_id", session.ID),
		zap.String("kind", kind),
		zap.Int("lines", len(edits)),
		zap.Bool("marked", updated.Marked),
	)
	return updated, nil
}
