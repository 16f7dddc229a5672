package anchor

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrec/anchor/internal/platform/auth"
	"github.com/medrec/anchor/pkg/pagination"
)

type Handler struct {
	svc *Service
	// wake asks the queue worker to run a pass now. The manual trigger and
	// the scheduled loop share one processing path, so concurrent triggers
	// cannot double-anchor.
	wake func()
}

func NewHandler(svc *Service, wake func()) *Handler {
	return &Handler{svc: svc, wake: wake}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	ops := api.Group("", auth.RequireRole("admin", "operator"))
	ops.GET("/anchor/queue/failed", h.ListFailed)
	ops.GET("/anchor/queue/:id", h.GetEntry)
	ops.POST("/anchor/queue/:id/requeue", h.Requeue)
	ops.POST("/anchor/run", h.Run)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	e, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "entry not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListFailed(c echo.Context) error {
	p := pagination.FromContext(c)

	var (
		items []*Entry
		total int
		err   error
	)
	if c.QueryParam("exhausted") == "true" {
		items, total, err = h.svc.ListExhausted(c.Request().Context(), p.Limit, p.Offset)
	} else {
		items, total, err = h.svc.ListFailed(c.Request().Context(), p.Limit, p.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Requeue(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	err = h.svc.Requeue(c.Request().Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "entry not found")
	case errors.Is(err, ErrRetryExhausted):
		return echo.NewHTTPError(http.StatusConflict, "retry budget exhausted")
	case errors.Is(err, ErrNotEligible):
		return echo.NewHTTPError(http.StatusConflict, "entry not in a retryable state")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if h.wake != nil {
		h.wake()
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) Run(c echo.Context) error {
	if h.wake != nil {
		h.wake()
	}
	return c.NoContent(http.StatusAccepted)
}
