// Package middleware provides shared request processing for handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys populated by JWTAuth for downstream handlers.
const (
	CtxAccountID = "account_id"
	CtxRole      = "role"
	CtxSessionID = "session_id"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the subject, role, and session claims into the request
// context. The secret must match the one used when issuing tokens.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(authHeader, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			c.Set(CtxAccountID, claimUint64(claims, "sub"))
			c.Set(CtxSessionID, claimUint64(claims, "sid"))
			if role, ok := claims["role"].(string); ok {
				c.Set(CtxRole, role)
			}
			return next(c)
		}
	}
}

// claimUint64 reads a numeric claim. JWT numbers decode as float64; zero
// means the claim is absent or malformed.
func claimUint64(claims jwt.MapClaims, key string) uint64 {
	if v, ok := claims[key].(float64); ok {
		return uint64(v)
	}
	return 0
}

// AccountID returns the authenticated account id stored by JWTAuth.
func AccountID(c echo.Context) uint64 {
	if v, ok := c.Get(CtxAccountID).(uint64); ok {
		return v
	}
	return 0
}

// SessionID returns the session id claim stored by JWTAuth.
func SessionID(c echo.Context) uint64 {
	if v, ok := c.Get(CtxSessionID).(uint64); ok {
		return v
	}
	return 0
}
