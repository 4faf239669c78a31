package middleware

import (
	"context"
	"log"

	"github.com/labstack/echo/v4"
)

// SessionToucher records activity on a session. *auth.SessionManager
// satisfies it.
type SessionToucher interface {
	TouchAccess(ctx context.Context, sessionID uint64, ip string) error
}

// TouchSession stamps last_accessed_at and the caller's current IP onto the
// session named by the access token. It runs after JWTAuth; a failed touch
// is logged and never fails the request.
func TouchSession(sessions SessionToucher) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if sid := SessionID(c); sid != 0 {
				if err := sessions.TouchAccess(c.Request().Context(), sid, c.RealIP()); err != nil {
					log.Printf("middleware: session touch failed for session %d: %v", sid, err)
				}
			}
			return next(c)
		}
	}
}
