package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/afterschool-ops-api/internal/models"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

const sessionColumns = "id, program_id, date, start_time, end_time, marked, origin, created_at, updated_at"

// SessionRepository persists sessions and their attendance lines. Writes that touch
// balances lock rows in a fixed order: session, attendance lines, then enrollments
// by student id.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type balanceRow struct {
	ID        string          `db:"id"`
	HoursLeft decimal.Decimal `db:"hours_left"`
}

// FindLatest returns the program's most recent materialized session, or nil when it
// has none. Makeup sessions are ignored so they never move the schedule forward.
func (r *SessionRepository) FindLatest(ctx context.Context, programID string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE program_id = $1 AND origin = $2
ORDER BY date DESC, start_time DESC LIMIT 1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, programID, string(models.SessionOriginMaterialized)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest session: %w", err)
	}
	return &session, nil
}

// FindByID loads a session with its attendance lines; sql.ErrNoRows when missing.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE id = $1", sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, []*models.Session{&session}); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByKey loads the session at (program, date, slot); sql.ErrNoRows when missing.
func (r *SessionRepository) FindByKey(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions
WHERE program_id = $1 AND date = $2 AND start_time = $3 AND end_time = $4`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, key.ProgramID, key.Date, key.Slot.Start, key.Slot.End); err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, []*models.Session{&session}); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpsertIfAbsent inserts the session and its lines unless one already exists at the
// same key, in which case the stored session is returned untouched. The unique key
// constraint decides the winner between concurrent callers.
func (r *SessionRepository) UpsertIfAbsent(ctx context.Context, session *models.Session) (*models.Session, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin session upsert: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	stampSession(session)
	session.Origin = models.SessionOriginMaterialized
	const insertQuery = `INSERT INTO sessions (id, program_id, date, start_time, end_time, marked, origin, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (program_id, date, start_time, end_time) DO NOTHING RETURNING id`
	var insertedID string
	err = tx.QueryRowxContext(ctx, insertQuery, session.ID, session.ProgramID, session.Date, session.StartTime,
		session.EndTime, session.Marked, string(session.Origin), session.CreatedAt, session.UpdatedAt).Scan(&insertedID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("insert session: %w", err)
		}
		_ = tx.Rollback()
		existing, err := r.FindByKey(ctx, session.Key())
		if err != nil {
			return nil, false, fmt.Errorf("load existing session: %w", err)
		}
		return existing, false, nil
	}

	if err := insertLines(ctx, tx, insertedID, session.Attendance); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit session upsert: %w", err)
	}
	commit = true
	for i := range session.Attendance {
		session.Attendance[i].SessionID = insertedID
	}
	return session, true, nil
}

// Overwrite creates or fully replaces the session at the key, reconciling every
// affected enrollment balance with rule in the same transaction. Students dropped
// from the session are credited back as if their hours were set to zero.
func (r *SessionRepository) Overwrite(ctx context.Context, session *models.Session, rule models.BalanceRule) (*models.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session overwrite: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	stampSession(session)
	// A replaced session keeps its origin; only new rows are tagged as makeup sessions.
	const upsertQuery = `INSERT INTO sessions (id, program_id, date, start_time, end_time, marked, origin, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (program_id, date, start_time, end_time)
DO UPDATE SET marked = EXCLUDED.marked, updated_at = EXCLUDED.updated_at
RETURNING id`
	var sessionID string
	if err := tx.GetContext(ctx, &sessionID, upsertQuery, session.ID, session.ProgramID, session.Date, session.StartTime,
		session.EndTime, session.Marked, string(models.SessionOriginAbsence), session.CreatedAt, session.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}

	const linesQuery = `SELECT session_id, student_id, attended, hours_attended FROM session_attendance
WHERE session_id = $1 ORDER BY student_id FOR UPDATE`
	var existing []models.AttendanceLine
	if err := tx.SelectContext(ctx, &existing, linesQuery, sessionID); err != nil {
		return nil, fmt.Errorf("lock session attendance: %w", err)
	}

	previous := make(map[string]decimal.Decimal, len(existing))
	for _, line := range existing {
		previous[line.StudentID] = line.HoursAttended
	}
	next := make(map[string]decimal.Decimal, len(session.Attendance))
	for _, line := range session.Attendance {
		next[line.StudentID] = line.HoursAttended
	}
	students := make([]string, 0, len(previous)+len(next))
	for id := range previous {
		students = append(students, id)
	}
	for id := range next {
		if _, ok := previous[id]; !ok {
			students = append(students, id)
		}
	}
	sort.Strings(students)

	for _, studentID := range students {
		prev := previous[studentID]
		updated, supplied := next[studentID]
		if !supplied {
			updated = decimal.Zero
		}
		balance, err := lockBalance(ctx, tx, session.ProgramID, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				if !supplied {
					continue
				}
				return nil, appErrors.Clone(appErrors.ErrEnrollmentNotFound, fmt.Sprintf("no enrollment for student %s in program %s", studentID, session.ProgramID))
			}
			return nil, err
		}
		if prev.Equal(updated) {
			continue
		}
		if err := updateBalance(ctx, tx, balance.ID, rule(balance.HoursLeft, prev, updated)); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_attendance WHERE session_id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("clear session attendance: %w", err)
	}
	if err := insertLines(ctx, tx, sessionID, session.Attendance); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session overwrite: %w", err)
	}
	commit = true

	return r.FindByID(ctx, sessionID)
}

// ApplyAttendance writes each edit to its attendance line and moves the owning
// enrollment balance with rule, all in one transaction. When mark is set the session
// is flagged as confirmed. Concurrent edits of the same line serialize on its row lock
// so rule always sees the latest committed hours.
func (r *SessionRepository) ApplyAttendance(ctx context.Context, sessionID string, edits []models.AttendanceEdit, mark bool, rule models.BalanceRule) (*models.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attendance edit: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	lockMode := "FOR SHARE"
	if mark {
		lockMode = "FOR UPDATE"
	}
	sessionQuery := fmt.Sprintf("SELECT %s FROM sessions WHERE id = $1 %s", sessionColumns, lockMode)
	var session models.Session
	if err := tx.GetContext(ctx, &session, sessionQuery, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}

	ordered := make([]models.AttendanceEdit, len(edits))
	copy(ordered, edits)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StudentID < ordered[j].StudentID })

	const lineQuery = `SELECT session_id, student_id, attended, hours_attended FROM session_attendance
WHERE session_id = $1 AND student_id = $2 FOR UPDATE`
	const updateLine = `UPDATE session_attendance SET attended = $3, hours_attended = $4
WHERE session_id = $1 AND student_id = $2`
	for _, edit := range ordered {
		var line models.AttendanceLine
		if err := tx.GetContext(ctx, &line, lineQuery, sessionID, edit.StudentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrAttendanceLineNotFound, fmt.Sprintf("student %s has no attendance line in session %s", edit.StudentID, sessionID))
			}
			return nil, fmt.Errorf("lock attendance line: %w", err)
		}
		balance, err := lockBalance(ctx, tx, session.ProgramID, edit.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrEnrollmentNotFound, fmt.Sprintf("no enrollment for student %s in program %s", edit.StudentID, session.ProgramID))
			}
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, updateLine, sessionID, edit.StudentID, edit.Attended, edit.HoursAttended); err != nil {
			return nil, fmt.Errorf("update attendance line: %w", err)
		}
		if err := updateBalance(ctx, tx, balance.ID, rule(balance.HoursLeft, line.HoursAttended, edit.HoursAttended)); err != nil {
			return nil, err
		}
	}

	if mark {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET marked = TRUE, updated_at = $2 WHERE id = $1`, sessionID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("mark session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attendance edit: %w", err)
	}
	commit = true

	return r.FindByID(ctx, sessionID)
}

// ListUnmarked returns sessions awaiting staff confirmation, newest first.
func (r *SessionRepository) ListUnmarked(ctx context.Context, limit int) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE marked = FALSE
ORDER BY date DESC, start_time DESC, program_id LIMIT $1`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, limit); err != nil {
		return nil, fmt.Errorf("list unmarked sessions: %w", err)
	}
	ptrs := make([]*models.Session, len(sessions))
	for i := range sessions {
		ptrs[i] = &sessions[i]
	}
	if err := r.loadLines(ctx, ptrs); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListStudentAttendance returns every session of the program in which the student
// has a line, optionally bounded by date.
func (r *SessionRepository) ListStudentAttendance(ctx context.Context, programID, studentID string, from, to *time.Time) ([]models.StudentAttendance, error) {
	where := []string{"s.program_id = $1", "a.student_id = $2"}
	args := []interface{}{programID, studentID}
	if from != nil {
		args = append(args, *from)
		where = append(where, fmt.Sprintf("s.date >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		where = append(where, fmt.Sprintf("s.date <= $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT s.id AS session_id, s.date, s.start_time, s.end_time, a.attended, a.hours_attended
FROM sessions s
JOIN session_attendance a ON a.session_id = s.id
WHERE %s
ORDER BY s.date ASC, s.start_time ASC`, strings.Join(where, " AND "))
	var rows []models.StudentAttendance
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list student attendance: %w", err)
	}
	return rows, nil
}

func (r *SessionRepository) loadLines(ctx context.Context, sessions []*models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]string, len(sessions))
	index := make(map[string]*models.Session, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
		index[s.ID] = s
		s.Attendance = []models.AttendanceLine{}
	}
	const query = `SELECT session_id, student_id, attended, hours_attended FROM session_attendance
WHERE session_id = ANY($1) ORDER BY session_id, student_id`
	var lines []models.AttendanceLine
	if err := r.db.SelectContext(ctx, &lines, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("load session attendance: %w", err)
	}
	for _, line := range lines {
		if s, ok := index[line.SessionID]; ok {
			s.Attendance = append(s.Attendance, line)
		}
	}
	return nil
}

func stampSession(session *models.Session) {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
}

func insertLines(ctx context.Context, tx *sqlx.Tx, sessionID string, lines []models.AttendanceLine) error {
	const query = `INSERT INTO session_attendance (session_id, student_id, attended, hours_attended) VALUES ($1, $2, $3, $4)`
	for _, line := range lines {
		if _, err := tx.ExecContext(ctx, query, sessionID, line.StudentID, line.Attended, line.HoursAttended); err != nil {
			return fmt.Errorf("insert attendance line for %s: %w", line.StudentID, err)
		}
	}
	return nil
}

func lockBalance(ctx context.Context, tx *sqlx.Tx, programID, studentID string) (*balanceRow, error) {
	const query = `SELECT id, hours_left FROM enrollments WHERE program_id = $1 AND student_id = $2 FOR UPDATE`
	var row balanceRow
	if err := tx.GetContext(ctx, &row, query, programID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment balance: %w", err)
	}
	return &row, nil
}

func updateBalance(ctx context.Context, tx *sqlx.Tx, enrollmentID string, hoursLeft decimal.Decimal) error {
	const query = `UPDATE enrollments SET hours_left = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, enrollmentID, hoursLeft, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment balance: %w", err)
	}
	return nil
}
