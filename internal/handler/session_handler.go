package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/middleware"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
	"github.com/noah-isme/afterschool-ops-api/pkg/response"
)

type sessionLedger interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	ListUnmarked(ctx context.Context, query dto.UnmarkedSessionsQuery) ([]models.Session, error)
	MarkSession(ctx context.Context, sessionID string, req dto.MarkAttendanceRequest) (*models.Session, error)
	EditLine(ctx context.Context, sessionID, studentID string, req dto.EditAttendanceRequest) (*models.Session, error)
}

type sessionRefresher interface {
	Refresh(ctx context.Context, req dto.MaterializeRequest) (*dto.MaterializeReport, error)
}

// SessionHandler exposes materialized sessions and their attendance lines.
type SessionHandler struct {
	ledger       sessionLedger
	materializer sessionRefresher
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(ledger sessionLedger, materializer sessionRefresher) *SessionHandler {
	return &SessionHandler{ledger: ledger, materializer: materializer}
}

// Refresh godoc
// @Summary Materialize sessions now
// @Tags Sessions
// @Accept json
// @Produce json
// @Param date query string false "Run date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /sessions/refresh [post]
func (h *SessionHandler) Refresh(c *gin.Context) {
	var req dto.MaterializeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	if req.Date == "" && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	report, err := h.materializer.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report, middleware.ResponseMeta(c))
}

// Unmarked godoc
// @Summary List sessions awaiting attendance confirmation
// @Tags Sessions
// @Produce json
// @Param limit query int false "Maximum sessions (1-500, default 50)"
// @Success 200 {object} response.Envelope
// @Router /sessions/unmarked [get]
func (h *SessionHandler) Unmarked(c *gin.Context) {
	var query dto.UnmarkedSessionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a number"))
		return
	}
	sessions, err := h.ledger.ListUnmarked(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := middleware.ResponseMeta(c)
	meta["count"] = len(sessions)
	response.OK(c, sessions, meta)
}

// Get godoc
// @Summary Get session with attendance
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// MarkAttendance godoc
// @Summary Confirm attendance for a whole session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.MarkAttendanceRequest true "Attendance lines"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/attendance [put]
func (h *SessionHandler) MarkAttendance(c *gin.Context) {
	var req dto.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.ledger.MarkSession(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// EditAttendanceLine godoc
// @Summary Correct one student's attendance line
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.EditAttendanceRequest true "Correction"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/attendance/{studentId} [patch]
func (h *SessionHandler) EditAttendanceLine(c *gin.Context) {
	var req dto.EditAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	studentID := strings.TrimSpace(c.Param("studentId"))
	session, err := h.ledger.EditLine(c.Request.Context(), c.Param("id"), studentID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}
