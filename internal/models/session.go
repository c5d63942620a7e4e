package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionKey is the natural identity of a session.
type SessionKey struct {
	ProgramID string
	Date      time.Time
	Slot      TimeSlot
}

// SessionOrigin records which path created a session.
type SessionOrigin string

const (
	// SessionOriginMaterialized marks sessions created from a program's weekly schedule.
	SessionOriginMaterialized SessionOrigin = "materialized"
	// SessionOriginAbsence marks staff-entered makeup sessions.
	SessionOriginAbsence SessionOrigin = "absence"
)

// Session is one concrete occurrence of a program slot on a calendar date.
type Session struct {
	ID         string           `db:"id" json:"id"`
	ProgramID  string           `db:"program_id" json:"program_id"`
	Date       time.Time        `db:"date" json:"date"`
	StartTime  string           `db:"start_time" json:"start_time"`
	EndTime    string           `db:"end_time" json:"end_time"`
	Marked     bool             `db:"marked" json:"marked"`
	Origin     SessionOrigin    `db:"origin" json:"origin"`
	Attendance []AttendanceLine `db:"-" json:"attendance"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// Key returns the session's natural key.
func (s Session) Key() SessionKey {
	return SessionKey{ProgramID: s.ProgramID, Date: s.Date, Slot: s.Slot()}
}

// Slot returns the session time slot.
func (s Session) Slot() TimeSlot {
	return TimeSlot{Start: s.StartTime, End: s.EndTime}
}

// Line returns the attendance line for studentID, if present.
func (s Session) Line(studentID string) (AttendanceLine, bool) {
	for _, line := range s.Attendance {
		if line.StudentID == studentID {
			return line, true
		}
	}
	return AttendanceLine{}, false
}

// AttendanceLine records one student's presence within a session.
type AttendanceLine struct {
	SessionID     string          `db:"session_id" json:"-"`
	StudentID     string          `db:"student_id" json:"student_id"`
	Attended      bool            `db:"attended" json:"attended"`
	HoursAttended decimal.Decimal `db:"hours_attended" json:"hours_attended"`
}

// AttendanceEdit is a resolved correction for one student's line.
type AttendanceEdit struct {
	StudentID     string
	Attended      bool
	HoursAttended decimal.Decimal
}

// StudentAttendance is one session a student has a line in, used by calendar views.
type StudentAttendance struct {
	SessionID     string          `db:"session_id"`
	Date          time.Time       `db:"date"`
	StartTime     string          `db:"start_time"`
	EndTime       string          `db:"end_time"`
	Attended      bool            `db:"attended"`
	HoursAttended decimal.Decimal `db:"hours_attended"`
}
