package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/afterschool-ops-api/pkg/calendar"
)

// CalendarQuery scopes a student's calendar view.
type CalendarQuery struct {
	ProgramID string `validate:"required"`
	StudentID string `validate:"required"`
	From      string `form:"from" validate:"omitempty,calendar_date"`
	To        string `form:"to" validate:"omitempty,calendar_date"`
}

// CalendarEntry is the hours a student attended on one day.
type CalendarEntry struct {
	Date          string          `json:"date"`
	HoursAttended decimal.Decimal `json:"hours_attended"`
	Sessions      int             `json:"sessions"`
}

// CalendarResponse is the per-day view for one student in one program.
type CalendarResponse struct {
	ProgramID string          `json:"program_id"`
	StudentID string          `json:"student_id"`
	Entries   []CalendarEntry `json:"entries"`
}

// Fill returns a copy whose entries cover every day in [from, to], with
// zero hours on days without sessions. Entries outside the range are dropped.
func (r CalendarResponse) Fill(from, to time.Time) CalendarResponse {
	byDate := make(map[string]CalendarEntry, len(r.Entries))
	for _, entry := range r.Entries {
		byDate[entry.Date] = entry
	}
	days := calendar.Days(from, to)
	filled := make([]CalendarEntry, 0, len(days))
	for _, day := range days {
		key := calendar.FormatDate(day)
		if entry, ok := byDate[key]; ok {
			filled = append(filled, entry)
			continue
		}
		filled = append(filled, CalendarEntry{Date: key, HoursAttended: decimal.Zero})
	}
	return CalendarResponse{ProgramID: r.ProgramID, StudentID: r.StudentID, Entries: filled}
}
