package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

func TestEnrollmentGet(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	svc := NewEnrollmentService(memEnrollments{db}, nil, zap.NewNop())

	enrollment, err := svc.Get(context.Background(), "E")
	require.NoError(t, err)
	assert.Equal(t, "S", enrollment.StudentID)
	assert.True(t, enrollment.HoursLeft.Equal(hours(20)))

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrEnrollmentNotFound)
}

func TestEnrollmentAdjustBalance(t *testing.T) {
	db := newMemDB()
	seedTuesdayProgram(db)
	svc := NewEnrollmentService(memEnrollments{db}, nil, zap.NewNop())
	ctx := context.Background()

	enrollment, err := svc.AdjustBalance(ctx, "E", dto.BalanceAdjustmentRequest{Delta: hours(5), Reason: "package top-up"})
	require.NoError(t, err)
	assert.True(t, enrollment.HoursLeft.Equal(hours(25)))

	enrollment, err = svc.AdjustBalance(ctx, "E", dto.BalanceAdjustmentRequest{Delta: hours(-100), Reason: "refund"})
	require.NoError(t, err)
	assert.True(t, enrollment.HoursLeft.IsZero())

	_, err = svc.AdjustBalance(ctx, "E", dto.BalanceAdjustmentRequest{Delta: decimal.Zero, Reason: "noop"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.AdjustBalance(ctx, "E", dto.BalanceAdjustmentRequest{Delta: hours(1)})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.AdjustBalance(ctx, "E", dto.BalanceAdjustmentRequest{Delta: decimal.RequireFromString("0.125"), Reason: "rounding"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.AdjustBalance(ctx, "missing", dto.BalanceAdjustmentRequest{Delta: hours(1), Reason: "typo"})
	assert.ErrorIs(t, err, appErrors.ErrEnrollmentNotFound)
}
