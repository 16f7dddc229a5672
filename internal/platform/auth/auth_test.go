package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "medrec-anchor", time.Hour)
	userID := uuid.New()

	token, err := issuer.Issue(userID, []string{"patient"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	gotID, roles, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if gotID != userID {
		t.Errorf("user id = %s, want %s", gotID, userID)
	}
	if len(roles) != 1 || roles[0] != "patient" {
		t.Errorf("roles = %v, want [patient]", roles)
	}
}

func TestTokenIssuer_RejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"), "medrec-anchor", time.Hour)
	other := NewTokenIssuer([]byte("secret-b"), "medrec-anchor", time.Hour)

	token, err := issuer.Issue(uuid.New(), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := other.Verify(token); err == nil {
		t.Error("expected verification failure with wrong secret")
	}
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "medrec-anchor", -time.Minute)

	token, err := issuer.Issue(uuid.New(), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := issuer.Verify(token); err == nil {
		t.Error("expected verification failure for expired token")
	}
}

func TestMiddleware_SetsUserContext(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "medrec-anchor", time.Hour)
	userID := uuid.New()
	token, err := issuer.Issue(userID, []string{"provider"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Middleware(issuer)(func(c echo.Context) error {
		if got := UserIDFromContext(c.Request().Context()); got != userID {
			t.Errorf("user id = %s, want %s", got, userID)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func TestMiddleware_RejectsMissingToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "medrec-anchor", time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Middleware(issuer)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	err := handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()

	run := func(roles []string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		ctx := WithUser(context.Background(), uuid.New(), roles)
		c.SetRequest(c.Request().WithContext(ctx))

		handler := RequireRole("operator")(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		return handler(c)
	}

	if err := run([]string{"operator"}); err != nil {
		t.Errorf("operator should pass: %v", err)
	}
	if err := run([]string{"admin"}); err != nil {
		t.Errorf("admin should always pass: %v", err)
	}
	if err := run([]string{"patient"}); err == nil {
		t.Error("patient should be rejected")
	}
}

func TestPasswordHash_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	ok, err := VerifyPassword("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Error("expected password to verify")
	}

	ok, err = VerifyPassword("wrong password", hash)
	if err != nil {
		t.Fatalf("verify wrong: %v", err)
	}
	if ok {
		t.Error("expected wrong password to fail")
	}
}

func TestPasswordHash_SaltedPerCall(t *testing.T) {
	h1, err := HashPassword("same input")
	if err != nil {
		t.Fatalf("first hash: %v", err)
	}
	h2, err := HashPassword("same input")
	if err != nil {
		t.Fatalf("second hash: %v", err)
	}
	if h1 == h2 {
		t.Error("expected fresh salt per hash")
	}
}
