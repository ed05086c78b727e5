package activity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carebook/scheduler/internal/domain/access"
	"github.com/carebook/scheduler/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/activity", h.List, access.RequireCapability(access.CapViewAudit))
}

func (h *Handler) List(c echo.Context) error {
	caller, ok := access.CallerFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	var f Filter
	if raw := c.QueryParam("entity_type"); raw != "" {
		t, ok := ParseEntityType(raw)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid entity_type")
		}
		f.EntityType = t
	}
	f.EntityID = c.QueryParam("entity_id")

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), caller, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
