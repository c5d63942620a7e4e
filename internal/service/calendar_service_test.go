package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

// seedCalendar materializes four Tuesdays for student S and adds a one-hour
// makeup session on the first of them.
func seedCalendar(t *testing.T) *memDB {
	t.Helper()
	db := newMemDB()
	seedTuesdayProgram(db)
	_, err := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: true}).Run(context.Background(), date(2024, 1, 23))
	require.NoError(t, err)
	_, err = newTestAbsence(db, nil).Submit(context.Background(), dto.AbsenceRequest{
		ProgramID: "P",
		Date:      "2024-01-02",
		StartTime: "14:00",
		EndTime:   "15:00",
		Lines:     []dto.AbsenceLineRequest{{StudentID: "S", Attended: boolPtr(true)}},
	})
	require.NoError(t, err)
	return db
}

func newTestCalendar(db *memDB, cache calendarCache) *CalendarService {
	return NewCalendarService(memPrograms{db}, memSessions{db}, cache, time.Minute, nil, zap.NewNop())
}

func TestCalendarSumsSameDaySessions(t *testing.T) {
	db := seedCalendar(t)

	resp, err := newTestCalendar(db, nil).Build(context.Background(), dto.CalendarQuery{ProgramID: "P", StudentID: "S"})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 4)
	assert.Equal(t, "2024-01-02", resp.Entries[0].Date)
	assert.True(t, resp.Entries[0].HoursAttended.Equal(hours(3)))
	assert.Equal(t, 2, resp.Entries[0].Sessions)
	assert.Equal(t, "2024-01-09", resp.Entries[1].Date)
	assert.True(t, resp.Entries[1].HoursAttended.Equal(hours(2)))
}

func TestCalendarZeroFillsRange(t *testing.T) {
	db := seedCalendar(t)

	resp, err := newTestCalendar(db, nil).Build(context.Background(), dto.CalendarQuery{
		ProgramID: "P", StudentID: "S", From: "2024-01-01", To: "2024-01-03",
	})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 3)
	assert.Equal(t, "2024-01-01", resp.Entries[0].Date)
	assert.True(t, resp.Entries[0].HoursAttended.IsZero())
	assert.Zero(t, resp.Entries[0].Sessions)
	assert.True(t, resp.Entries[1].HoursAttended.Equal(hours(3)))
	assert.True(t, resp.Entries[2].HoursAttended.IsZero())
}

func TestCalendarUnknownStudentIsEmpty(t *testing.T) {
	db := seedCalendar(t)

	resp, err := newTestCalendar(db, nil).Build(context.Background(), dto.CalendarQuery{ProgramID: "P", StudentID: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)
}

func TestCalendarRejectsBadQueries(t *testing.T) {
	db := seedCalendar(t)
	svc := newTestCalendar(db, nil)
	ctx := context.Background()

	_, err := svc.Build(ctx, dto.CalendarQuery{ProgramID: "P", StudentID: "S", From: "2024-01-10", To: "2024-01-01"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Build(ctx, dto.CalendarQuery{ProgramID: "P", StudentID: "S", From: "01/10/2024"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Build(ctx, dto.CalendarQuery{ProgramID: "P"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Build(ctx, dto.CalendarQuery{ProgramID: "missing", StudentID: "S"})
	assert.ErrorIs(t, err, appErrors.ErrProgramNotFound)
}

func TestCalendarCacheInvalidatedByEdits(t *testing.T) {
	db := seedCalendar(t)
	cache := newMemCache()
	svc := newTestCalendar(db, cache)
	ledger := newTestLedger(db, cache)
	ctx := context.Background()
	query := dto.CalendarQuery{ProgramID: "P", StudentID: "S", From: "2024-01-09", To: "2024-01-09"}

	first, err := svc.Build(ctx, query)
	require.NoError(t, err)
	require.True(t, first.Entries[0].HoursAttended.Equal(hours(2)))

	_, err = svc.Build(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	session := db.sessionAt("P", date(2024, 1, 9), "09:00", "11:00")
	_, err = ledger.EditLine(ctx, session.ID, "S", editHours(hours(1)))
	require.NoError(t, err)

	after, err := svc.Build(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.True(t, after.Entries[0].HoursAttended.Equal(hours(1)))
}
