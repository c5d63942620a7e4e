package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

// memDB is an in-memory stand-in for the Postgres repositories. A single mutex
// makes every write atomic, matching the transactional guarantees of the real store.
type memDB struct {
	mu          sync.Mutex
	programs    map[string]models.Program
	enrollments map[string]*models.Enrollment
	sessions    map[string]*models.Session
	keys        map[string]string

	findActiveErr func(q models.EnrollmentQuery) error
	upsertCalls   int
}

func newMemDB() *memDB {
	return &memDB{
		programs:    map[string]models.Program{},
		enrollments: map[string]*models.Enrollment{},
		sessions:    map[string]*models.Session{},
		keys:        map[string]string{},
	}
}

func keyString(k models.SessionKey) string {
	return fmt.Sprintf("%s|%s|%s|%s", k.ProgramID, k.Date.Format("2006-01-02"), k.Slot.Start, k.Slot.End)
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	c.Attendance = append([]models.AttendanceLine(nil), s.Attendance...)
	return &c
}

func (db *memDB) addProgram(p models.Program) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.programs[p.ID] = p
}

func (db *memDB) addEnrollment(e models.Enrollment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	db.enrollments[e.ID] = &e
}

func (db *memDB) balance(programID, studentID string) decimal.Decimal {
	db.mu.Lock()
	defer db.mu.Unlock()
	if e := db.enrollmentFor(programID, studentID); e != nil {
		return e.HoursLeft
	}
	return decimal.Zero
}

func (db *memDB) sessionAt(programID string, date time.Time, start, end string) *models.Session {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.keys[keyString(models.SessionKey{ProgramID: programID, Date: date, Slot: models.TimeSlot{Start: start, End: end}})]
	if !ok {
		return nil
	}
	return cloneSession(db.sessions[id])
}

func (db *memDB) sessionCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.sessions)
}

func (db *memDB) enrollmentFor(programID, studentID string) *models.Enrollment {
	for _, e := range db.enrollments {
		if e.ProgramID == programID && e.StudentID == studentID {
			return e
		}
	}
	return nil
}

type memPrograms struct{ db *memDB }

func (r memPrograms) ListRegular(ctx context.Context) ([]models.Program, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Program
	for _, p := range r.db.programs {
		if p.Kind == models.ProgramKindRegular {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memPrograms) FindByID(ctx context.Context, id string) (*models.Program, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.programs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

type memEnrollments struct{ db *memDB }

func (r memEnrollments) FindActive(ctx context.Context, q models.EnrollmentQuery) ([]models.Enrollment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.findActiveErr != nil {
		if err := r.db.findActiveErr(q); err != nil {
			return nil, err
		}
	}
	var out []models.Enrollment
	for _, e := range r.db.enrollments {
		if e.ProgramID != q.ProgramID || e.Status != models.EnrollmentStatusJoined {
			continue
		}
		if e.Slot() != q.Slot || !e.Weekdays.Contains(q.Weekday) || e.StartDate.After(q.OnOrBefore) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (r memEnrollments) EarliestStartDate(ctx context.Context, programID string) (*time.Time, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var earliest *time.Time
	for _, e := range r.db.enrollments {
		if e.ProgramID != programID || e.Status != models.EnrollmentStatusJoined {
			continue
		}
		if earliest == nil || e.StartDate.Before(*earliest) {
			start := e.StartDate
			earliest = &start
		}
	}
	return earliest, nil
}

func (r memEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *e
	return &c, nil
}

func (r memEnrollments) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*models.Enrollment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	e.HoursLeft = e.HoursLeft.Add(delta)
	if e.HoursLeft.IsNegative() {
		e.HoursLeft = decimal.Zero
	}
	c := *e
	return &c, nil
}

type memSessions struct{ db *memDB }

func (r memSessions) FindLatest(ctx context.Context, programID string) (*models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var latest *models.Session
	for _, s := range r.db.sessions {
		if s.ProgramID != programID || s.Origin != models.SessionOriginMaterialized {
			continue
		}
		if latest == nil || s.Date.After(latest.Date) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneSession(latest), nil
}

func (r memSessions) UpsertIfAbsent(ctx context.Context, session *models.Session) (*models.Session, bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.upsertCalls++
	key := keyString(session.Key())
	if id, ok := r.db.keys[key]; ok {
		return cloneSession(r.db.sessions[id]), false, nil
	}
	stored := cloneSession(session)
	stored.ID = uuid.NewString()
	stored.Origin = models.SessionOriginMaterialized
	for i := range stored.Attendance {
		stored.Attendance[i].SessionID = stored.ID
	}
	r.db.sessions[stored.ID] = stored
	r.db.keys[key] = stored.ID
	return cloneSession(stored), true, nil
}

func (r memSessions) Overwrite(ctx context.Context, session *models.Session, rule models.BalanceRule) (*models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := keyString(session.Key())
	previous := map[string]decimal.Decimal{}
	origin := models.SessionOriginAbsence
	id, exists := r.db.keys[key]
	if exists {
		origin = r.db.sessions[id].Origin
		for _, line := range r.db.sessions[id].Attendance {
			previous[line.StudentID] = line.HoursAttended
		}
	} else {
		id = uuid.NewString()
	}
	next := map[string]decimal.Decimal{}
	for _, line := range session.Attendance {
		next[line.StudentID] = line.HoursAttended
		if r.db.enrollmentFor(session.ProgramID, line.StudentID) == nil {
			return nil, appErrors.ErrEnrollmentNotFound
		}
	}
	for studentID, prev := range previous {
		if _, kept := next[studentID]; !kept {
			if e := r.db.enrollmentFor(session.ProgramID, studentID); e != nil {
				e.HoursLeft = rule(e.HoursLeft, prev, decimal.Zero)
			}
		}
	}
	for studentID, hours := range next {
		e := r.db.enrollmentFor(session.ProgramID, studentID)
		e.HoursLeft = rule(e.HoursLeft, previous[studentID], hours)
	}
	stored := cloneSession(session)
	stored.ID = id
	stored.Origin = origin
	for i := range stored.Attendance {
		stored.Attendance[i].SessionID = id
	}
	r.db.sessions[id] = stored
	r.db.keys[key] = id
	return cloneSession(stored), nil
}

func (r memSessions) FindByID(ctx context.Context, id string) (*models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneSession(s), nil
}

func (r memSessions) ListUnmarked(ctx context.Context, limit int) ([]models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Session
	for _, s := range r.db.sessions {
		if !s.Marked {
			out = append(out, *cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memSessions) ApplyAttendance(ctx context.Context, sessionID string, edits []models.AttendanceEdit, mark bool, rule models.BalanceRule) (*models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[sessionID]
	if !ok {
		return nil, appErrors.ErrSessionNotFound
	}
	index := map[string]int{}
	for i, line := range s.Attendance {
		index[line.StudentID] = i
	}
	for _, edit := range edits {
		if _, ok := index[edit.StudentID]; !ok {
			return nil, appErrors.ErrAttendanceLineNotFound
		}
		if r.db.enrollmentFor(s.ProgramID, edit.StudentID) == nil {
			return nil, appErrors.ErrEnrollmentNotFound
		}
	}
	for _, edit := range edits {
		line := &s.Attendance[index[edit.StudentID]]
		e := r.db.enrollmentFor(s.ProgramID, edit.StudentID)
		e.HoursLeft = rule(e.HoursLeft, line.HoursAttended, edit.HoursAttended)
		line.Attended = edit.Attended
		line.HoursAttended = edit.HoursAttended
	}
	if mark {
		s.Marked = true
	}
	return cloneSession(s), nil
}

func (r memSessions) ListStudentAttendance(ctx context.Context, programID, studentID string, from, to *time.Time) ([]models.StudentAttendance, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.StudentAttendance
	for _, s := range r.db.sessions {
		if s.ProgramID != programID {
			continue
		}
		if (from != nil && s.Date.Before(*from)) || (to != nil && s.Date.After(*to)) {
			continue
		}
		if line, ok := s.Line(studentID); ok {
			out = append(out, models.StudentAttendance{
				SessionID:     s.ID,
				Date:          s.Date,
				StartTime:     s.StartTime,
				EndTime:       s.EndTime,
				Attended:      line.Attended,
				HoursAttended: line.HoursAttended,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// memCache holds calendar views in a map and records invalidations.
type memCache struct {
	mu          sync.Mutex
	entries     map[string]interface{}
	invalidated []string
	hits        int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]interface{}{}}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	out, ok := dest.(*dto.CalendarResponse)
	if !ok {
		return false, errors.New("unsupported cache destination")
	}
	*out = v.(dto.CalendarResponse)
	c.hits++
	return true, nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, pattern)
	c.entries = map[string]interface{}{}
	return nil
}
