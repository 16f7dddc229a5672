package audit

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medrec/anchor/internal/platform/auth"
	"github.com/medrec/anchor/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "operator"))
	g.GET("/audit-logs", h.Search)
	g.GET("/audit-logs/digest", h.BatchDigest)
}

func (h *Handler) Search(c echo.Context) error {
	params := map[string]string{}
	for _, key := range []string{"action", "status", "user", "target-type", "target"} {
		if v := c.QueryParam(key); v != "" {
			params[key] = v
		}
	}

	p := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), params, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) BatchDigest(c echo.Context) error {
	since := time.Time{}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since timestamp")
		}
		since = t
	}

	p := pagination.FromContext(c)
	digest, count, err := h.svc.BatchDigest(c.Request().Context(), since, p.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"digest":  digest,
		"entries": count,
		"since":   since,
	})
}
