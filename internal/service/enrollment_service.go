package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

type enrollmentBalanceStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*models.Enrollment, error)
}

// EnrollmentService exposes enrollment balances and manual corrections to them.
type EnrollmentService struct {
	repo      enrollmentBalanceStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs the service.
func NewEnrollmentService(repo enrollmentBalanceStore, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, validator: newValidator(validate), logger: logger}
}

// Get returns an enrollment with its current hours left.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	return enrollment, nil
}

// AdjustBalance moves hours left by delta; the result never drops below zero.
func (s *EnrollmentService) AdjustBalance(ctx context.Context, id string, req dto.BalanceAdjustmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.Delta.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "delta must be non-zero")
	}
	if err := checkHourScale("delta", req.Delta); err != nil {
		return nil, err
	}
	enrollment, err := s.repo.AdjustBalance(ctx, id, req.Delta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Internal(err, "failed to adjust balance")
	}
	s.logger.Info("enrollment balance adjusted",
		zap.String("enrollment_id", id),
		zap.String("delta", req.Delta.String()),
		zap.String("hours_left", enrollment.HoursLeft.String()),
		zap.String("reason", req.Reason),
	)
	return enrollment, nil
}
