package lifecycle

import (
	"net/http"

	"github.com/google/uuid"
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
	lifecycle := api.Group("", access.RequireCapability(access.CapManageLifecycle))
	lifecycle.PATCH("/staff/:id", h.UpdateStaff)
	lifecycle.POST("/staff/:id/deactivate", h.DeactivateStaff)
	lifecycle.POST("/staff/:id/reactivate", h.ReactivateStaff)
	lifecycle.PATCH("/branches/:id", h.UpdateBranch)
	lifecycle.POST("/branches/:id/deactivate", h.DeactivateBranch)
	lifecycle.POST("/branches/:id/reactivate", h.ReactivateBranch)

	mappings := api.Group("", access.RequireCapability(access.CapManageMappings))
	mappings.POST("/mappings", h.AssignStaff)
	mappings.DELETE("/mappings", h.RemoveStaff)
	mappings.GET("/mappings", h.ListMappings)
}

func caller(c echo.Context) (access.Caller, error) {
	cl, ok := access.CallerFrom(c)
	if !ok {
		return access.Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	return cl, nil
}

func parseID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) DeactivateStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	res, err := h.svc.DeactivateStaff(c.Request().Context(), cl, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ReactivateStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	st, err := h.svc.ReactivateStaff(c.Request().Context(), cl, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	var p StaffPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.UpdateStaff(c.Request().Context(), cl, id, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateBranch(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	var p BranchPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.UpdateBranch(c.Request().Context(), cl, id, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeactivateBranch(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	res, err := h.svc.DeactivateBranch(c.Request().Context(), cl, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ReactivateBranch(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	active := true
	b, err := h.svc.UpdateBranch(c.Request().Context(), cl, id, BranchPatch{IsActive: &active})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) AssignStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var in AssignInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.AssignStaffToBranch(c.Request().Context(), cl, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) RemoveStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	staffID, err := parseID(c.QueryParam("staff_id"), "staff_id")
	if err != nil {
		return err
	}
	branchID, err := parseID(c.QueryParam("branch_id"), "branch_id")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveStaffFromBranch(c.Request().Context(), cl, staffID, branchID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMappings(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMappings(c.Request().Context(), cl, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
