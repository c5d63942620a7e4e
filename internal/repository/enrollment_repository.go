package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/afterschool-ops-api/internal/models"
)

const enrollmentColumns = "id, student_id, program_id, status, weekdays, slot_start, slot_end, start_date, hours_left, created_at, updated_at"

// EnrollmentRepository manages enrollment persistence and hours balances.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindActive returns joined enrollments for the program whose slot matches, whose
// weekday subset contains the weekday, and which started on or before the date.
func (r *EnrollmentRepository) FindActive(ctx context.Context, q models.EnrollmentQuery) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments
WHERE program_id = $1 AND status = $2 AND slot_start = $3 AND slot_end = $4
AND $5 = ANY(weekdays) AND start_date <= $6
ORDER BY student_id`, enrollmentColumns)
	var enrollments []models.Enrollment
	err := r.db.SelectContext(ctx, &enrollments, query,
		q.ProgramID, models.EnrollmentStatusJoined, q.Slot.Start, q.Slot.End, string(q.Weekday), q.OnOrBefore)
	if err != nil {
		return nil, fmt.Errorf("find active enrollments: %w", err)
	}
	return enrollments, nil
}

// EarliestStartDate returns the first start date among joined enrollments of the program, or nil.
func (r *EnrollmentRepository) EarliestStartDate(ctx context.Context, programID string) (*time.Time, error) {
	const query = `SELECT MIN(start_date) FROM enrollments WHERE program_id = $1 AND status = $2`
	var earliest sql.NullTime
	if err := r.db.GetContext(ctx, &earliest, query, programID, models.EnrollmentStatusJoined); err != nil {
		return nil, fmt.Errorf("earliest enrollment start: %w", err)
	}
	if !earliest.Valid {
		return nil, nil
	}
	return &earliest.Time, nil
}

// FindByID returns an enrollment; sql.ErrNoRows when missing.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE id = $1", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// AdjustBalance adds delta to hours left, flooring at zero; sql.ErrNoRows when missing.
func (r *EnrollmentRepository) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*models.Enrollment, error) {
	query := fmt.Sprintf(`UPDATE enrollments SET hours_left = GREATEST(hours_left + $2, 0), updated_at = $3
WHERE id = $1 RETURNING %s`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id, delta, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &enrollment, nil
}
