package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/middleware"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
	"github.com/noah-isme/afterschool-ops-api/pkg/export"
	"github.com/noah-isme/afterschool-ops-api/pkg/response"
)

type calendarBuilder interface {
	Build(ctx context.Context, query dto.CalendarQuery) (*dto.CalendarResponse, error)
}

var calendarCSVHeaders = []string{"date", "hours_attended", "sessions"}

// CalendarHandler serves a student's per-day attendance view.
type CalendarHandler struct {
	service  calendarBuilder
	exporter *export.CSVExporter
}

// NewCalendarHandler constructs the handler.
func NewCalendarHandler(service calendarBuilder, exporter *export.CSVExporter) *CalendarHandler {
	if exporter == nil {
		exporter = export.NewCSVExporter()
	}
	return &CalendarHandler{service: service, exporter: exporter}
}

// Student godoc
// @Summary Student attendance calendar
// @Tags Calendar
// @Produce json
// @Produce text/csv
// @Param programId path string true "Program ID"
// @Param studentId path string true "Student ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param format query string false "json (default) or csv"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /programs/{programId}/students/{studentId}/calendar [get]
func (h *CalendarHandler) Student(c *gin.Context) {
	var query dto.CalendarQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	query.ProgramID = c.Param("programId")
	query.StudentID = c.Param("studentId")
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	if format != "json" && format != "csv" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be json or csv"))
		return
	}

	view, err := h.service.Build(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	if format == "json" {
		response.OK(c, view, middleware.ResponseMeta(c))
		return
	}

	rows := make([]map[string]string, 0, len(view.Entries))
	for _, entry := range view.Entries {
		rows = append(rows, map[string]string{
			"date":           entry.Date,
			"hours_attended": entry.HoursAttended.String(),
			"sessions":       fmt.Sprintf("%d", entry.Sessions),
		})
	}
	body, err := h.exporter.Render(export.Dataset{Headers: calendarCSVHeaders, Rows: rows})
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to render calendar"))
		return
	}
	filename := fmt.Sprintf("calendar-%s-%s.csv", view.ProgramID, view.StudentID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, export.ContentTypeCSV, body)
}
