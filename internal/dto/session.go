package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// AttendanceLineRequest is one student's correction inside a whole-session submission.
type AttendanceLineRequest struct {
	StudentID     string           `json:"student_id" validate:"required"`
	Attended      *bool            `json:"attended"`
	HoursAttended *decimal.Decimal `json:"hours_attended"`
}

// MarkAttendanceRequest confirms attendance for a session and flips it to marked.
type MarkAttendanceRequest struct {
	Lines []AttendanceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// EditAttendanceRequest corrects a single student's line without marking the session.
type EditAttendanceRequest struct {
	Attended      *bool            `json:"attended"`
	HoursAttended *decimal.Decimal `json:"hours_attended"`
}

// UnmarkedSessionsQuery bounds the unmarked sessions dashboard read.
type UnmarkedSessionsQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=500"`
}

// MaterializeRequest optionally overrides the run date for a manual refresh.
type MaterializeRequest struct {
	Date string `json:"date" form:"date" validate:"omitempty,calendar_date"`
}

// MaterializeFailure identifies a unit of work that could not be materialized.
type MaterializeFailure struct {
	ProgramID string `json:"program_id"`
	Date      string `json:"date,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Error     string `json:"error"`
}

// MaterializeReport summarises one materializer run.
type MaterializeReport struct {
	RunDate          string               `json:"run_date"`
	Programs         int                  `json:"programs"`
	SessionsCreated  int                  `json:"sessions_created"`
	SessionsExisting int                  `json:"sessions_existing"`
	SlotsSkipped     int                  `json:"slots_skipped"`
	Failures         []MaterializeFailure `json:"failures"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
}
