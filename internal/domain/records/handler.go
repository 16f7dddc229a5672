package records

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
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/records", h.Create)
	api.GET("/records", h.List)
	api.GET("/records/:id", h.Get)
	api.PUT("/records/:id", h.Update)
	api.GET("/records/:id/verify", h.Verify)
	api.GET("/records/:id/hashes", h.Hashes)
	api.POST("/records/:id/share", h.Share)
	api.POST("/shares/:id/revoke", h.RevokeShare)
	api.GET("/shares", h.ListShares)
	api.GET("/payloads/:id", h.Payload)
}

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrShareRevoked):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

type recordInput struct {
	Title      string         `json:"title"`
	RecordType string         `json:"record_type"`
	Data       map[string]any `json:"data"`
}

func (h *Handler) Create(c echo.Context) error {
	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var in recordInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	m := &MedicalRecord{
		PatientID:  actingUser,
		Title:      in.Title,
		RecordType: in.RecordType,
		Data:       in.Data,
	}
	if err := h.svc.Create(c.Request().Context(), actingUser, m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) List(c echo.Context) error {
	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	p := pagination.FromContext(c)

	items, total, err := h.svc.ListByPatient(c.Request().Context(), actingUser, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	actingUser, id, herr := actingAndID(c)
	if herr != nil {
		return herr
	}

	m, err := h.svc.Get(c.Request().Context(), actingUser, id)
	if err != nil {
		return echo.NewHTTPError(httpStatusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Update(c echo.Context) error {
	actingUser, id, herr := actingAndID(c)
	if herr != nil {
		return herr
	}

	var in recordInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	m := &MedicalRecord{
		ID:         id,
		Title:      in.Title,
		RecordType: in.RecordType,
		Data:       in.Data,
	}
	if err := h.svc.Update(c.Request().Context(), actingUser, m); err != nil {
		return echo.NewHTTPError(httpStatusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Verify(c echo.Context) error {
	actingUser, id, herr := actingAndID(c)
	if herr != nil {
		return herr
	}

	ok, err := h.svc.VerifyIntegrity(c.Request().Context(), actingUser, id)
	if err != nil {
		return echo.NewHTTPError(httpStatusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"hash_valid": ok})
}

func (h *Handler) Hashes(c echo.Context) error {
	actingUser, id, herr := actingAndID(c)
	if herr != nil {
		return herr
	}

	hashes, err := h.svc.Hashes(c.Request().Context(), actingUser, id)
	if err != nil {
		return echo.NewHTTPError(httpStatusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, hashes)
}

type shareInput struct {
	GranteeID uuid.UUID `json:"grantee_id"`
}

func (h *Handler) Share(c echo.Context) error {
	actingUser, id, herr := actingAndID(c)
	if herr != nil {
		return herr
	}

	var in shareInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	share, err := h.svc.Share(c.Request().Context(), actingUser, id, in.GranteeID)
	if err != nil {
		return echo.NewHTTPError(httpStatusFor(err), err.Error())
	}
	return c.JSON(http.StatusCreated, share)
}

func (h *Handler) RevokeShare(c echo.Context) error {
	actingUser, id, herr := actingAndID(c)
	if herr != nil {
		return herr
	}

	if err := h.svc.RevokeShare(c.Request().Context(), actingUser, id); err != nil {
		return echo.NewHTTPError(httpStatusFor(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListShares(c echo.Context) error {
	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	p := pagination.FromContext(c)

	items, total, err := h.svc.ListSharesByGrantee(c.Request().Context(), actingUser, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Payload(c echo.Context) error {
	actingUser, id, herr := actingAndID(c)
	if herr != nil {
		return herr
	}

	p, err := h.svc.Payload(c.Request().Context(), actingUser, id)
	if err != nil {
		return echo.NewHTTPError(httpStatusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func actingAndID(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return actingUser, id, nil
}
