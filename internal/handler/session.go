package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JSalazarAlt/registration-auth-service/internal/auth"
	"github.com/JSalazarAlt/registration-auth-service/internal/middleware"
	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// SessionHandler exposes session inspection and termination plus the
// account mutations that feed the profile mirror.
type SessionHandler struct {
	Auth     *auth.Authenticator
	Sessions *auth.SessionManager
}

func NewSessionHandler(a *auth.Authenticator, s *auth.SessionManager) *SessionHandler {
	return &SessionHandler{Auth: a, Sessions: s}
}

type sessionPart struct {
	ID             uint64    `json:"id"`
	UserAgent      string    `json:"user_agent"`
	DeviceName     string    `json:"device_name,omitempty"`
	IPAddress      string    `json:"ip_address"`
	LastIPAddress  string    `json:"last_ip_address"`
	Location       string    `json:"location,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type updateUsernameReq struct {
	Username string `json:"username"`
}
type updateEmailReq struct {
	Email string `json:"email"`
}

// List returns the caller's active sessions.
func (h *SessionHandler) List(c echo.Context) error {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	sessions, err := h.Sessions.ListActiveForAccount(ctx, accountID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list failed"})
	}
	out := make([]sessionPart, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionPart{
			ID:             s.ID,
			UserAgent:      s.UserAgent,
			DeviceName:     s.DeviceName,
			IPAddress:      s.IPAddress,
			LastIPAddress:  s.LastIPAddress,
			Location:       s.Location,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			LastAccessedAt: s.LastAccessedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

// Terminate ends one of the caller's sessions.
func (h *SessionHandler) Terminate(c echo.Context) error {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sessionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Sessions.TerminateOwned(ctx, accountID, sessionID, model.TerminationUser); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "terminate failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// TerminateAll logs the caller out everywhere.
func (h *SessionHandler) TerminateAll(c echo.Context) error {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.TerminateAllSessions(ctx, accountID, model.TerminationUser); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "terminate failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// AdminTerminateAll force-terminates every session of the named account.
// Routed behind RequireRole(ADMIN).
func (h *SessionHandler) AdminTerminateAll(c echo.Context) error {
	accountID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid account id"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.TerminateAllSessions(ctx, accountID, model.TerminationAdmin); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "terminate failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteAccount soft-deletes the caller's account and ends every session.
func (h *SessionHandler) DeleteAccount(c echo.Context) error {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.SoftDelete(ctx, accountID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateUsername renames the caller's account.
func (h *SessionHandler) UpdateUsername(c echo.Context) error {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req updateUsernameReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.UpdateUsername(ctx, accountID, strings.TrimSpace(req.Username)); err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already taken"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateEmail changes the caller's address; the new one must be verified.
func (h *SessionHandler) UpdateEmail(c echo.Context) error {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req updateEmailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if _, err := h.Auth.UpdateEmail(ctx, accountID, strings.TrimSpace(req.Email)); err != nil {
		if errors.Is(err, auth.ErrEmailRegistered) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
