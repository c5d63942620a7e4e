package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	"github.com/noah-isme/afterschool-ops-api/pkg/calendar"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

type studentAttendanceReader interface {
	ListStudentAttendance(ctx context.Context, programID, studentID string, from, to *time.Time) ([]models.StudentAttendance, error)
}

type calendarCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CalendarService builds per-day hours views of a student's sessions. It never writes.
type CalendarService struct {
	programs  programLookup
	sessions  studentAttendanceReader
	cache     calendarCache
	ttl       time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCalendarService constructs the calendar view builder.
func NewCalendarService(programs programLookup, sessions studentAttendanceReader, cache calendarCache, ttl time.Duration, validate *validator.Validate, logger *zap.Logger) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarService{
		programs:  programs,
		sessions:  sessions,
		cache:     cache,
		ttl:       ttl,
		validator: newValidator(validate),
		logger:    logger,
	}
}

// Build returns one entry per day the student has a session line, summing hours of
// same-day sessions. With both from and to set, days without sessions are zero-filled.
func (s *CalendarService) Build(ctx context.Context, query dto.CalendarQuery) (*dto.CalendarResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, validationError(err)
	}
	from, err := optionalDate(query.From)
	if err != nil {
		return nil, err
	}
	to, err := optionalDate(query.To)
	if err != nil {
		return nil, err
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}

	key := CalendarCacheKey(query.ProgramID, query.StudentID, query.From, query.To)
	if s.cache != nil {
		var cached dto.CalendarResponse
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	if _, err := s.programs.FindByID(ctx, query.ProgramID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrProgramNotFound
		}
		return nil, appErrors.Internal(err, "failed to load program")
	}

	rows, err := s.sessions.ListStudentAttendance(ctx, query.ProgramID, query.StudentID, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load student attendance")
	}

	resp := dto.CalendarResponse{
		ProgramID: query.ProgramID,
		StudentID: query.StudentID,
		Entries:   aggregateByDay(rows),
	}
	if from != nil && to != nil {
		resp = resp.Fill(*from, *to)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, resp, s.ttl)
	}
	return &resp, nil
}

func aggregateByDay(rows []models.StudentAttendance) []dto.CalendarEntry {
	entries := make([]dto.CalendarEntry, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		day := calendar.FormatDate(row.Date)
		if i, ok := index[day]; ok {
			entries[i].HoursAttended = entries[i].HoursAttended.Add(row.HoursAttended)
			entries[i].Sessions++
			continue
		}
		index[day] = len(entries)
		entries = append(entries, dto.CalendarEntry{
			Date:          day,
			HoursAttended: decimal.Zero.Add(row.HoursAttended),
			Sessions:      1,
		})
	}
	return entries
}

func optionalDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	date, err := calendar.ParseDate(raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	return &date, nil
}
