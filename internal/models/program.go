package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/afterschool-ops-api/pkg/calendar"
)

// ProgramKind distinguishes scheduled programs from ad-hoc ones.
type ProgramKind string

const (
	ProgramKindRegular ProgramKind = "regular"
	ProgramKindVarying ProgramKind = "varying"
)

// TimeSlot is one daily occurrence window in HH:MM form.
type TimeSlot struct {
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

// String renders the slot as HH:MM-HH:MM.
func (s TimeSlot) String() string {
	return s.Start + "-" + s.End
}

// Duration returns the hours credited for attending the full slot.
func (s TimeSlot) Duration() (decimal.Decimal, error) {
	return calendar.SlotDuration(s.Start, s.End)
}

// WeekdaySet is a set of weekday codes stored as a Postgres TEXT[] column.
type WeekdaySet []calendar.Weekday

// Contains reports whether day is part of the set.
func (w WeekdaySet) Contains(day calendar.Weekday) bool {
	for _, d := range w {
		if d == day {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (w WeekdaySet) Value() (driver.Value, error) {
	arr := make(pq.StringArray, len(w))
	for i, d := range w {
		arr[i] = string(d)
	}
	return arr.Value()
}

// Scan implements sql.Scanner.
func (w *WeekdaySet) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("scan weekday set: %w", err)
	}
	days, err := calendar.ParseWeekdays(arr)
	if err != nil {
		return err
	}
	*w = days
	return nil
}

// TimeSlots persists a program's ordered slot list as JSONB.
type TimeSlots []TimeSlot

// Value marshals slots to JSON for persistence.
func (s TimeSlots) Value() (driver.Value, error) {
	if s == nil {
		s = TimeSlots{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal time slots: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the slot list.
func (s *TimeSlots) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for TimeSlots", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal time slots: %w", err)
	}
	return nil
}

// Program is a recurring or ad-hoc after-school offering.
type Program struct {
	ID        string      `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Kind      ProgramKind `db:"kind" json:"kind"`
	Weekdays  WeekdaySet  `db:"weekdays" json:"weekdays"`
	TimeSlots TimeSlots   `db:"time_slots" json:"time_slots"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// Validate checks the schedule shape for the program kind.
func (p Program) Validate() error {
	if p.Kind != ProgramKindRegular {
		return nil
	}
	if len(p.Weekdays) == 0 {
		return fmt.Errorf("program %s: regular program has no weekdays", p.ID)
	}
	if len(p.TimeSlots) == 0 {
		return fmt.Errorf("program %s: regular program has no time slots", p.ID)
	}
	for _, slot := range p.TimeSlots {
		if _, err := slot.Duration(); err != nil {
			return fmt.Errorf("program %s slot %s: %w", p.ID, slot, err)
		}
	}
	return nil
}
