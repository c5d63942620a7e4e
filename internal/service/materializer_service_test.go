package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func hours(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// seedTuesdayProgram sets up program P (Tuesdays, 09:00-11:00) with student S
// enrolled from 2024-01-01 holding 20 hours.
func seedTuesdayProgram(db *memDB) {
	db.addProgram(models.Program{
		ID:        "P",
		Kind:      models.ProgramKindRegular,
		Weekdays:  models.WeekdaySet{"T"},
		TimeSlots: models.TimeSlots{{Start: "09:00", End: "11:00"}},
	})
	db.addEnrollment(models.Enrollment{
		ID:        "E",
		StudentID: "S",
		ProgramID: "P",
		Status:    models.EnrollmentStatusJoined,
		Weekdays:  models.WeekdaySet{"T"},
		SlotStart: "09:00",
		SlotEnd:   "11:00",
		StartDate: date(2024, 1, 1),
		HoursLeft: hours(20),
	})
}

func newTestMaterializer(db *memDB, cfg MaterializerConfig) *MaterializerService {
	return NewMaterializerService(memPrograms{db}, memEnrollments{db}, memSessions{db}, nil, NewMetricsService(), zap.NewNop(), cfg)
}

func TestMaterializerEndToEndScenario(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	materializer := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: true})

	report, err := materializer.Run(context.Background(), date(2024, 1, 9))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-09", report.RunDate)
	assert.Equal(t, 2, report.SessionsCreated)
	assert.Empty(t, report.Failures)

	for _, d := range []time.Time{date(2024, 1, 2), date(2024, 1, 9)} {
		session := db.sessionAt("P", d, "09:00", "11:00")
		require.NotNil(t, session, d.String())
		assert.False(t, session.Marked)
		require.Len(t, session.Attendance, 1)
		assert.Equal(t, "S", session.Attendance[0].StudentID)
		assert.True(t, session.Attendance[0].Attended)
		assert.True(t, session.Attendance[0].HoursAttended.Equal(hours(2)))
	}
	assert.True(t, db.balance("P", "S").Equal(hours(20)))

	ledger := NewAttendanceService(memSessions{db}, nil, nil, nil, zap.NewNop())
	first := db.sessionAt("P", date(2024, 1, 2), "09:00", "11:00")
	one := hours(1)
	_, err = ledger.EditLine(context.Background(), first.ID, "S", editHours(one))
	require.NoError(t, err)
	assert.True(t, db.balance("P", "S").Equal(hours(21)), "got %s", db.balance("P", "S"))
}

func TestMaterializerIsIdempotent(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	materializer := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: true})

	_, err := materializer.Run(context.Background(), date(2024, 1, 23))
	require.NoError(t, err)
	before := db.sessionCount()
	snapshot := db.sessionAt("P", date(2024, 1, 16), "09:00", "11:00")

	report, err := materializer.Run(context.Background(), date(2024, 1, 23))
	require.NoError(t, err)
	assert.Zero(t, report.SessionsCreated)
	assert.Equal(t, 1, report.SessionsExisting)
	assert.Equal(t, before, db.sessionCount())
	assert.Equal(t, snapshot, db.sessionAt("P", date(2024, 1, 16), "09:00", "11:00"))
}

func TestMaterializerAnchorsOnLatestSession(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	materializer := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: true})

	_, err := materializer.Run(context.Background(), date(2024, 1, 9))
	require.NoError(t, err)

	report, err := materializer.Run(context.Background(), date(2024, 1, 23))
	require.NoError(t, err)
	assert.Equal(t, 2, report.SessionsCreated)
	assert.Equal(t, 1, report.SessionsExisting)
	assert.Equal(t, 4, db.sessionCount())
}

func TestMaterializerWithoutBackfillStartsToday(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	materializer := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: false})

	report, err := materializer.Run(context.Background(), date(2024, 1, 9))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsCreated)
	assert.Nil(t, db.sessionAt("P", date(2024, 1, 2), "09:00", "11:00"))
	assert.NotNil(t, db.sessionAt("P", date(2024, 1, 9), "09:00", "11:00"))
}

func TestMaterializerSkipsEmptySlotDates(t *testing.T) {
	db := newMemDB()
	db.addProgram(models.Program{
		ID:        "P",
		Kind:      models.ProgramKindRegular,
		Weekdays:  models.WeekdaySet{"M", "W"},
		TimeSlots: models.TimeSlots{{Start: "09:00", End: "11:00"}, {Start: "13:00", End: "14:30"}},
	})
	db.addEnrollment(models.Enrollment{
		StudentID: "S1", ProgramID: "P", Status: models.EnrollmentStatusJoined,
		Weekdays: models.WeekdaySet{"M"}, SlotStart: "13:00", SlotEnd: "14:30",
		StartDate: date(2024, 1, 1), HoursLeft: hours(10),
	})
	db.addEnrollment(models.Enrollment{
		StudentID: "S2", ProgramID: "P", Status: models.EnrollmentStatusWaitlisted,
		Weekdays: models.WeekdaySet{"M", "W"}, SlotStart: "09:00", SlotEnd: "11:00",
		StartDate: date(2024, 1, 1), HoursLeft: hours(10),
	})
	materializer := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: true})

	report, err := materializer.Run(context.Background(), date(2024, 1, 3))
	require.NoError(t, err)
	// Mon 01-01 and Wed 01-03, two slots each: only Monday afternoon has a joined student.
	assert.Equal(t, 1, report.SessionsCreated)
	assert.Equal(t, 3, report.SlotsSkipped)
	session := db.sessionAt("P", date(2024, 1, 1), "13:00", "14:30")
	require.NotNil(t, session)
	assert.True(t, session.Attendance[0].HoursAttended.Equal(hours(2)))
	assert.Nil(t, db.sessionAt("P", date(2024, 1, 1), "09:00", "11:00"))
}

func TestMaterializerIsolatesFailures(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	db.addProgram(models.Program{
		ID:        "Q",
		Kind:      models.ProgramKindRegular,
		Weekdays:  models.WeekdaySet{"T"},
		TimeSlots: models.TimeSlots{{Start: "09:00", End: "11:00"}},
	})
	db.addProgram(models.Program{ID: "broken", Kind: models.ProgramKindRegular})
	db.addEnrollment(models.Enrollment{
		StudentID: "S", ProgramID: "Q", Status: models.EnrollmentStatusJoined,
		Weekdays: models.WeekdaySet{"T"}, SlotStart: "09:00", SlotEnd: "11:00",
		StartDate: date(2024, 1, 1), HoursLeft: hours(5),
	})
	db.findActiveErr = func(q models.EnrollmentQuery) error {
		if q.ProgramID == "Q" && q.OnOrBefore.Equal(date(2024, 1, 9)) {
			return errors.New("connection reset")
		}
		return nil
	}
	materializer := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: true})

	report, err := materializer.Run(context.Background(), date(2024, 1, 9))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Programs)
	assert.Equal(t, 3, report.SessionsCreated)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "Q", report.Failures[0].ProgramID)
	assert.Equal(t, "2024-01-09", report.Failures[0].Date)
	assert.Equal(t, "09:00", report.Failures[0].StartTime)
	assert.Equal(t, "broken", report.Failures[1].ProgramID)
	assert.NotNil(t, db.sessionAt("Q", date(2024, 1, 2), "09:00", "11:00"))
	assert.Nil(t, db.sessionAt("Q", date(2024, 1, 9), "09:00", "11:00"))

	db.findActiveErr = nil
	report, err = materializer.Run(context.Background(), date(2024, 1, 9))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsCreated)
	assert.NotNil(t, db.sessionAt("Q", date(2024, 1, 9), "09:00", "11:00"))
}

func TestMaterializerConcurrentRunsKeepKeysUnique(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	materializer := newTestMaterializer(db, MaterializerConfig{Concurrency: 8, BackfillFromEnrollment: true})

	var wg sync.WaitGroup
	created := make([]int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := materializer.Run(context.Background(), date(2024, 3, 26))
			if err == nil {
				created[i] = report.SessionsCreated
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range created {
		total += n
	}
	// Tuesdays from 2024-01-02 through 2024-03-26.
	assert.Equal(t, 13, db.sessionCount())
	assert.Equal(t, 13, total)
}

func TestMaterializerUsesConfiguredZone(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	loc := time.FixedZone("UTC+7", 7*60*60)
	materializer := newTestMaterializer(db, MaterializerConfig{Location: loc})

	// Monday 20:00 UTC is already Tuesday in UTC+7.
	report, err := materializer.Run(context.Background(), time.Date(2024, 1, 8, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-09", report.RunDate)
	assert.Equal(t, 1, report.SessionsCreated)
}

func TestMaterializerRefreshReadsDateInZone(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	loc := time.FixedZone("UTC-8", -8*60*60)
	materializer := newTestMaterializer(db, MaterializerConfig{Location: loc})

	report, err := materializer.Refresh(context.Background(), dto.MaterializeRequest{Date: "2024-01-09"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-09", report.RunDate)
	assert.NotNil(t, db.sessionAt("P", date(2024, 1, 9), "09:00", "11:00"))

	_, err = materializer.Refresh(context.Background(), dto.MaterializeRequest{Date: "09/01/2024"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestMaterializerIgnoresMakeupSessionsWhenAnchoring(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	materializer := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: true})
	ctx := context.Background()

	_, err := materializer.Run(ctx, date(2024, 1, 9))
	require.NoError(t, err)

	absences := NewAbsenceService(memPrograms{db}, memSessions{db}, nil, nil, nil, zap.NewNop())
	makeup, err := absences.Submit(ctx, dto.AbsenceRequest{
		ProgramID: "P",
		Date:      "2024-01-30",
		StartTime: "15:00",
		EndTime:   "16:00",
		Lines:     []dto.AbsenceLineRequest{{StudentID: "S", Attended: boolPtr(true)}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionOriginAbsence, makeup.Origin)

	for _, run := range []struct {
		day     time.Time
		created int
	}{
		{date(2024, 1, 16), 1},
		{date(2024, 1, 23), 1},
		{date(2024, 1, 31), 1},
	} {
		report, err := materializer.Run(ctx, run.day)
		require.NoError(t, err)
		assert.Equal(t, run.created, report.SessionsCreated, run.day.String())
	}
	for _, d := range []time.Time{date(2024, 1, 16), date(2024, 1, 23), date(2024, 1, 30)} {
		session := db.sessionAt("P", d, "09:00", "11:00")
		require.NotNil(t, session, d.String())
		assert.Equal(t, models.SessionOriginMaterialized, session.Origin)
	}
}

func TestMaterializerKeepsOriginWhenMakeupReplacesRegularSession(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	materializer := newTestMaterializer(db, MaterializerConfig{BackfillFromEnrollment: true})
	ctx := context.Background()

	_, err := materializer.Run(ctx, date(2024, 1, 9))
	require.NoError(t, err)
	absences := NewAbsenceService(memPrograms{db}, memSessions{db}, nil, nil, nil, zap.NewNop())
	replaced, err := absences.Submit(ctx, dto.AbsenceRequest{
		ProgramID: "P",
		Date:      "2024-01-09",
		StartTime: "09:00",
		EndTime:   "11:00",
		Lines:     []dto.AbsenceLineRequest{{StudentID: "S", Attended: boolPtr(false)}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionOriginMaterialized, replaced.Origin)

	report, err := materializer.Run(ctx, date(2024, 1, 16))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsCreated)
	assert.Equal(t, 1, report.SessionsExisting)
}

func TestMaterializerInvalidatesCalendarsOfProgramsWithNewSessions(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	db.addProgram(models.Program{
		ID:        "Q",
		Kind:      models.ProgramKindRegular,
		Weekdays:  models.WeekdaySet{"T"},
		TimeSlots: models.TimeSlots{{Start: "09:00", End: "11:00"}},
	})
	cache := newMemCache()
	materializer := NewMaterializerService(memPrograms{db}, memEnrollments{db}, memSessions{db}, cache, nil, zap.NewNop(),
		MaterializerConfig{BackfillFromEnrollment: true})

	_, err := materializer.Run(context.Background(), date(2024, 1, 9))
	require.NoError(t, err)
	// Q has no enrollments, so nothing new to show for it.
	assert.Equal(t, []string{"calendar:P:*"}, cache.invalidated)

	_, err = materializer.Run(context.Background(), date(2024, 1, 9))
	require.NoError(t, err)
	assert.Len(t, cache.invalidated, 1)
}
