package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JSalazarAlt/registration-auth-service/internal/utils"
)

const testSecret = "test-secret"

func runProtected(t *testing.T, authHeader string, mw ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec, c
}

func TestJWTAuthAcceptsIssuedToken(t *testing.T) {
	at, err := utils.NewAccessToken(testSecret, 42, "USER", 7, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec, c := runProtected(t, "Bearer "+at.Token, JWTAuth(testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if AccountID(c) != 42 {
		t.Fatalf("wrong account id: %d", AccountID(c))
	}
	if SessionID(c) != 7 {
		t.Fatalf("wrong session id: %d", SessionID(c))
	}
}

func TestJWTAuthRejectsBadTokens(t *testing.T) {
	wrong, err := utils.NewAccessToken("other-secret", 42, "USER", 7, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, err := utils.NewAccessToken(testSecret, 42, "USER", 7, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + wrong.Token},
		{"expired", "Bearer " + expired.Token},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := runProtected(t, tc.header, JWTAuth(testSecret))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	admin, err := utils.NewAccessToken(testSecret, 1, "ADMIN", 2, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	user, err := utils.NewAccessToken(testSecret, 3, "USER", 4, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec, _ := runProtected(t, "Bearer "+admin.Token, JWTAuth(testSecret), RequireRole("ADMIN"))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin on admin route: expected 200, got %d", rec.Code)
	}
	rec, _ = runProtected(t, "Bearer "+user.Token, JWTAuth(testSecret), RequireRole("ADMIN"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user on admin route: expected 403, got %d", rec.Code)
	}
	rec, _ = runProtected(t, "Bearer "+user.Token, JWTAuth(testSecret), RequireRole("USER", "ADMIN"))
	if rec.Code != http.StatusOK {
		t.Fatalf("user on shared route: expected 200, got %d", rec.Code)
	}
}
