package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/afterschool-ops-api/pkg/calendar"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusJoined     EnrollmentStatus = "Joined"
	EnrollmentStatusWaitlisted EnrollmentStatus = "Waitlisted"
	EnrollmentStatusArchived   EnrollmentStatus = "Archived"
	EnrollmentStatusNotAFit    EnrollmentStatus = "Not a fit"
)

// Enrollment links one student to one program and carries the hours balance.
type Enrollment struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	ProgramID string           `db:"program_id" json:"program_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	Weekdays  WeekdaySet       `db:"weekdays" json:"weekdays"`
	SlotStart string           `db:"slot_start" json:"slot_start"`
	SlotEnd   string           `db:"slot_end" json:"slot_end"`
	StartDate time.Time        `db:"start_date" json:"start_date"`
	HoursLeft decimal.Decimal  `db:"hours_left" json:"hours_left"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// Slot returns the enrolled time slot.
func (e Enrollment) Slot() TimeSlot {
	return TimeSlot{Start: e.SlotStart, End: e.SlotEnd}
}

// EnrollmentQuery selects enrollments eligible for a session on one date.
type EnrollmentQuery struct {
	ProgramID  string
	Weekday    calendar.Weekday
	Slot       TimeSlot
	OnOrBefore time.Time
}
