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

type absenceSubmitter interface {
	Submit(ctx context.Context, req dto.AbsenceRequest) (*models.Session, error)
}

// AbsenceHandler accepts makeup sessions entered by staff.
type AbsenceHandler struct {
	service absenceSubmitter
}

// NewAbsenceHandler constructs the handler.
func NewAbsenceHandler(service absenceSubmitter) *AbsenceHandler {
	return &AbsenceHandler{service: service}
}

// Submit godoc
// @Summary Create or replace a makeup session
// @Tags Absences
// @Accept json
// @Produce json
// @Param payload body dto.AbsenceRequest true "Makeup session"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /absences [post]
func (h *AbsenceHandler) Submit(c *gin.Context) {
	var req dto.AbsenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}
