package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
	"github.com/noah-isme/afterschool-ops-api/pkg/response"
)

type enrollmentBalances interface {
	Get(ctx context.Context, id string) (*models.Enrollment, error)
	AdjustBalance(ctx context.Context, id string, req dto.BalanceAdjustmentRequest) (*models.Enrollment, error)
}

// EnrollmentHandler exposes enrollment balances.
type EnrollmentHandler struct {
	enrollments enrollmentBalances
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentBalances) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Get godoc
// @Summary Get enrollment with hours left
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}

// AdjustBalance godoc
// @Summary Manually correct an enrollment's hours left
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.BalanceAdjustmentRequest true "Adjustment"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/balance-adjustments [post]
func (h *EnrollmentHandler) AdjustBalance(c *gin.Context) {
	var req dto.BalanceAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.AdjustBalance(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}
