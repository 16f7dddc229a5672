package keys

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrec/anchor/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/keys/ensure", h.EnsureKeyPair)
	api.POST("/keys/rotate", h.Rotate)
	api.GET("/keys/:userId/public", h.GetPublicKey)
}

// EnsureKeyPair issues the calling user's key pair if absent. The private key
// appears in the response exactly once, on the generating call, and must be
// stored by the client; it is not recoverable afterwards.
func (h *Handler) EnsureKeyPair(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())

	issued, err := h.svc.EnsureKeyPair(c.Request().Context(), userID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "key issuance failed")
	}
	return c.JSON(http.StatusOK, issuedResponse(issued))
}

func (h *Handler) Rotate(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())

	issued, err := h.svc.Rotate(c.Request().Context(), userID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "key rotation failed")
	}
	return c.JSON(http.StatusOK, issuedResponse(issued))
}

func (h *Handler) GetPublicKey(c echo.Context) error {
	recipientID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	key, err := h.svc.RecipientPublicKey(c.Request().Context(), recipientID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no active key for user")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"user_id":    key.UserID,
		"public_key": base64.StdEncoding.EncodeToString(key.PublicKey),
		"algorithm":  key.Algorithm,
	})
}

func issuedResponse(issued *Issued) map[string]interface{} {
	resp := map[string]interface{}{
		"public_key":      base64.StdEncoding.EncodeToString(issued.PublicKey),
		"algorithm":       issued.Algorithm,
		"has_private_key": issued.HasPrivateKey,
	}
	if issued.HasPrivateKey {
		resp["private_key"] = base64.StdEncoding.EncodeToString(issued.PrivateKey)
	}
	return resp
}
