package consent

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
	api.POST("/consents", h.Request)
	api.GET("/consents", h.List)
	api.GET("/consents/:id", h.Get)
	api.POST("/consents/:id/approve", h.Approve)
	api.POST("/consents/:id/reject", h.Reject)
	api.POST("/consents/:id/revoke", h.Revoke)
	api.GET("/consents/:id/verify", h.Verify)
}

type requestConsentInput struct {
	MedicalRecordID uuid.UUID `json:"medical_record_id"`
	GranteeID       uuid.UUID `json:"grantee_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	SignedConsent   string    `json:"signed_consent"`
}

func (h *Handler) Request(c echo.Context) error {
	var in requestConsentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	rec := &Record{
		MedicalRecordID: in.MedicalRecordID,
		GranteeID:       in.GranteeID,
		PatientID:       in.PatientID,
		SignedConsent:   in.SignedConsent,
	}
	if err := h.svc.Request(c.Request().Context(), actingUser, rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) List(c echo.Context) error {
	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	p := pagination.FromContext(c)

	var (
		items []*Record
		total int
		err   error
	)
	if c.QueryParam("role") == "grantee" {
		items, total, err = h.svc.ListByGrantee(c.Request().Context(), actingUser, p.Limit, p.Offset)
	} else {
		items, total, err = h.svc.ListByPatient(c.Request().Context(), actingUser, p.Limit, p.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	rec, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Approve(c echo.Context) error {
	return h.decide(c, StatusApproved)
}

func (h *Handler) Reject(c echo.Context) error {
	return h.decide(c, StatusRejected)
}

func (h *Handler) decide(c echo.Context, status Status) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	rec, err := h.svc.Decide(c.Request().Context(), actingUser, id, status)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "consent not found")
	case errors.Is(err, ErrAlreadyDecided):
		return echo.NewHTTPError(http.StatusConflict, "consent already decided")
	case err != nil:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

type revokeInput struct {
	Reason string `json:"reason"`
}

func (h *Handler) Revoke(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var in revokeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rev, err := h.svc.Revoke(c.Request().Context(), actingUser, id, in.Reason)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "consent not found")
	case errors.Is(err, ErrAlreadyRevoked):
		return echo.NewHTTPError(http.StatusConflict, "consent already revoked")
	case err != nil:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return c.JSON(http.StatusCreated, rev)
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actingUser := auth.UserIDFromContext(c.Request().Context())
	if actingUser == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	result, err := h.svc.Verify(c.Request().Context(), actingUser, id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
