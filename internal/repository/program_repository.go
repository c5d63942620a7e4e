package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/afterschool-ops-api/internal/models"
)

const programColumns = "id, name, kind, weekdays, time_slots, created_at, updated_at"

// ProgramRepository reads program definitions. Programs are managed elsewhere.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// ListRegular returns every program with a fixed weekly schedule.
func (r *ProgramRepository) ListRegular(ctx context.Context) ([]models.Program, error) {
	query := fmt.Sprintf("SELECT %s FROM programs WHERE kind = $1 ORDER BY id", programColumns)
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query, models.ProgramKindRegular); err != nil {
		return nil, fmt.Errorf("list regular programs: %w", err)
	}
	return programs, nil
}

// FindByID returns a program; sql.ErrNoRows when missing.
func (r *ProgramRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	query := fmt.Sprintf("SELECT %s FROM programs WHERE id = $1", programColumns)
	var program models.Program
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		return nil, err
	}
	return &program, nil
}
