package dto

import "github.com/shopspring/decimal"

// AbsenceLineRequest is one explicit student entry of a makeup session.
type AbsenceLineRequest struct {
	StudentID     string           `json:"student_id" validate:"required"`
	Attended      *bool            `json:"attended"`
	HoursAttended *decimal.Decimal `json:"hours_attended"`
}

// AbsenceRequest creates or fully replaces a makeup session at (program, date, slot).
type AbsenceRequest struct {
	ProgramID string               `json:"program_id" validate:"required"`
	Date      string               `json:"date" validate:"required,calendar_date"`
	StartTime string               `json:"start_time" validate:"required"`
	EndTime   string               `json:"end_time" validate:"required"`
	Marked    *bool                `json:"marked"`
	Lines     []AbsenceLineRequest `json:"lines" validate:"required,min=1,dive"`
}
