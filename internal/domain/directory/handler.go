package directory

import (
	"net/http"
	"strconv"

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
	api.POST("/staff", h.CreateStaff)
	api.GET("/staff", h.ListStaff)
	api.GET("/staff/:id", h.GetStaff)
	api.GET("/staff/:id/branches", h.StaffBranches)

	api.POST("/patients", h.RegisterPatient)
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.PATCH("/patients/:id", h.UpdatePatient)

	api.POST("/branches", h.CreateBranch)
	api.GET("/branches", h.ListBranches)
	api.GET("/branches/:id", h.GetBranch)
	api.GET("/branches/:id/staff", h.BranchStaff)
}

func caller(c echo.Context) (access.Caller, error) {
	cl, ok := access.CallerFrom(c)
	if !ok {
		return access.Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	return cl, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func boolParam(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &v, nil
}

// -- Staff Handlers --

func (h *Handler) CreateStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var in CreateStaffInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.CreateStaff(c.Request().Context(), cl, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStaff(c.Request().Context(), cl, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var f StaffFilter
	if raw := c.QueryParam("role"); raw != "" {
		role, err := access.ParseRole(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid role")
		}
		f.Role = &role
	}
	if f.Active, err = boolParam(c, "active"); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListStaff(c.Request().Context(), cl, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) StaffBranches(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.StaffBranches(c.Request().Context(), cl, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

// -- Patient Handlers --

func (h *Handler) RegisterPatient(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var in RegisterPatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.RegisterPatient(c.Request().Context(), cl, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), cl, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), cl, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var p PatientPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pt, err := h.svc.UpdatePatient(c.Request().Context(), cl, id, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pt)
}

// -- Branch Handlers --

func (h *Handler) CreateBranch(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var in CreateBranchInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.CreateBranch(c.Request().Context(), cl, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBranch(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBranch(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBranches(c echo.Context) error {
	active, err := boolParam(c, "active")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBranches(c.Request().Context(), active, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) BranchStaff(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.BranchStaff(c.Request().Context(), cl, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}
