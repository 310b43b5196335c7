package export

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/export/forms/:formId/submissions", h.ExportSubmissions)
}

// ExportSubmissions accepts a submission batch for one form. The
// response reports the translation stage only: accepted submissions are
// written to DHIS2 in the background.
func (h *Handler) ExportSubmissions(c echo.Context) error {
	var env Envelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.svc.ProcessBatch(c.Request().Context(), c.Param("formId"), env)
	switch {
	case errors.Is(err, ErrUnknownForm):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, res)
}
