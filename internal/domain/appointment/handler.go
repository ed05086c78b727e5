package appointment

import (
	"net/http"
	"time"

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
	api.POST("/appointments", h.Create)
	api.GET("/appointments", h.List)
	api.GET("/appointments/collisions", h.CheckCollision)
	api.POST("/appointments/bulk-delete", h.BulkDelete)
	api.GET("/appointments/:id", h.Get)
	api.PATCH("/appointments/:id", h.Update)
	api.DELETE("/appointments/:id", h.Delete)
}

type createRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	StaffID     uuid.UUID  `json:"staff_id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	BranchID    *uuid.UUID `json:"branch_id"`
	StartTime   string     `json:"start_time"`
	EndTime     string     `json:"end_time"`
	Status      *Status    `json:"status"`
}

type updateRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Category    *string    `json:"category"`
	BranchID    *uuid.UUID `json:"branch_id"`
	StartTime   *string    `json:"start_time"`
	EndTime     *string    `json:"end_time"`
	Status      *Status    `json:"status"`
}

type bulkDeleteRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func caller(c echo.Context) (access.Caller, error) {
	cl, ok := access.CallerFrom(c)
	if !ok {
		return access.Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	return cl, nil
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func (h *Handler) Create(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	in := CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		StaffID:     req.StaffID,
		PatientID:   req.PatientID,
		BranchID:    req.BranchID,
		Status:      req.Status,
	}
	if req.StartTime != "" {
		if in.StartTime, err = ParseTime(req.StartTime); err != nil {
			return badRequest("invalid start_time")
		}
	}
	if req.EndTime != "" {
		if in.EndTime, err = ParseTime(req.EndTime); err != nil {
			return badRequest("invalid end_time")
		}
	}

	a, err := h.svc.Create(c.Request().Context(), cl, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest("invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), cl, id)
	if err != nil {
		return err
	}
	if a == nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Update(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest("invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	in := UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		BranchID:    req.BranchID,
		Status:      req.Status,
	}
	if req.StartTime != nil {
		t, err := ParseTime(*req.StartTime)
		if err != nil {
			return badRequest("invalid start_time")
		}
		in.StartTime = &t
	}
	if req.EndTime != nil {
		t, err := ParseTime(*req.EndTime)
		if err != nil {
			return badRequest("invalid end_time")
		}
		in.EndTime = &t
	}

	a, err := h.svc.Update(c.Request().Context(), cl, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest("invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), cl, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) BulkDelete(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var req bulkDeleteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	n, err := h.svc.BulkDelete(c.Request().Context(), cl, req.IDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) List(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var f Filter
	for name, dst := range map[string]**uuid.UUID{
		"staff_id":   &f.StaffID,
		"patient_id": &f.PatientID,
		"branch_id":  &f.BranchID,
	} {
		if raw := c.QueryParam(name); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return badRequest("invalid " + name)
			}
			*dst = &id
		}
	}
	if raw := c.QueryParam("status"); raw != "" {
		st := Status(raw)
		f.Status = &st
	}
	f.Category = c.QueryParam("category")
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if raw := c.QueryParam(name); raw != "" {
			t, err := ParseTime(raw)
			if err != nil {
				return badRequest("invalid " + name)
			}
			*dst = &t
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), cl, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CheckCollision(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var staffID, patientID uuid.UUID
	if raw := c.QueryParam("staff_id"); raw != "" {
		if staffID, err = uuid.Parse(raw); err != nil {
			return badRequest("invalid staff_id")
		}
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		if patientID, err = uuid.Parse(raw); err != nil {
			return badRequest("invalid patient_id")
		}
	}
	start, err := ParseTime(c.QueryParam("start"))
	if err != nil {
		return badRequest("invalid start")
	}
	end, err := ParseTime(c.QueryParam("end"))
	if err != nil {
		return badRequest("invalid end")
	}

	conflicts, err := h.svc.CheckCollision(c.Request().Context(), cl, staffID, patientID, start, end)
	if err != nil {
		return err
	}
	if conflicts == nil {
		conflicts = []*Appointment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"has_conflict": len(conflicts) > 0,
		"conflicts":    conflicts,
	})
}
