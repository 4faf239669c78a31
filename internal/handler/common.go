package handler

import (
	"context"

	"github.com/labstack/echo/v4"
)

// requestContext derives a bounded context from the incoming request so a
// stalled database or broker cannot hold the connection open indefinitely.
func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}
