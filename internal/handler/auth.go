// Package handler contains the thin HTTP adapters over the auth engine.
// Handlers bind and validate request bodies, invoke the engine, and map
// the engine's error set onto status codes; no business rules live here.
package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JSalazarAlt/registration-auth-service/internal/auth"
	"github.com/JSalazarAlt/registration-auth-service/internal/config"
	"github.com/JSalazarAlt/registration-auth-service/internal/middleware"
	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// requestTimeout bounds every engine call made from a handler.
const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for the auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Auth     *auth.Authenticator
	Tokens   *auth.TokenEngine
	Sessions *auth.SessionManager
}

func NewAuthHandler(cfg config.Config, a *auth.Authenticator, t *auth.TokenEngine, s *auth.SessionManager) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Auth: a, Tokens: t, Sessions: s}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type verifyEmailReq struct {
	Token string `json:"token"`
}
type forgotPasswordReq struct {
	Email string `json:"email"`
}
type resetPasswordReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type accountPart struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}
type authResp struct {
	Account   accountPart `json:"account"`
	SessionID uint64      `json:"session_id"`
	Access    tokenPart   `json:"access"`
	Refresh   tokenPart   `json:"refresh"`
}

func accountJSON(a model.Account) accountPart {
	return accountPart{ID: a.ID, Username: a.Username, Email: a.Email, Role: a.Role}
}

func sessionMetadata(c echo.Context) model.SessionMetadata {
	return model.SessionMetadata{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	}
}

// Register creates an unverified account. The Idempotency-Key header, when
// present, deduplicates client retries.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/email/password required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Auth.Register(ctx, auth.RegisterInput{
		Username:       req.Username,
		Email:          req.Email,
		Password:       req.Password,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateRequest):
			return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate request"})
		case errors.Is(err, auth.ErrUsernameTaken):
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already taken"})
		case errors.Is(err, auth.ErrEmailRegistered):
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create account failed"})
	}

	body := echo.Map{"account": accountJSON(res.Account), "email_verified": false}
	if h.Cfg.Env == "dev" {
		// The mailer is an external collaborator; in dev the verification
		// token is surfaced so the flow can be exercised without one.
		body["verification_token"] = res.VerificationToken
	}
	return c.JSON(http.StatusCreated, body)
}

// Login exchanges credentials for a session and its token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "identifier/password required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Auth.Login(ctx, req.Identifier, req.Password, sessionMetadata(c))
	if err != nil {
		return loginError(c, err)
	}
	return c.JSON(http.StatusOK, authResp{
		Account:   accountJSON(res.Account),
		SessionID: res.Session.ID,
		Access:    tokenPart{Token: res.Tokens.AccessToken, Expires: res.Tokens.AccessExpiresAt},
		Refresh:   tokenPart{Token: res.Tokens.RefreshToken, Expires: res.Tokens.RefreshExpiresAt},
	})
}

// loginError maps the login state machine's outcomes onto status codes.
// Locked accounts get 423 with the remaining lock time in minutes.
func loginError(c echo.Context, err error) error {
	var locked *auth.AccountLockedError
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, auth.ErrAccountDisabled):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
	case errors.Is(err, auth.ErrEmailNotVerified):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "email not verified"})
	case errors.As(err, &locked):
		return c.JSON(http.StatusLocked, echo.Map{
			"error":             "account locked",
			"remaining_minutes": locked.RemainingMinutes(),
		})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
}

// Refresh rotates a refresh token: the presented token is consumed and a
// new pair is returned. A replayed token always fails here.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	pair, account, err := h.Tokens.Rotate(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"account": accountJSON(account),
		"access":  tokenPart{Token: pair.AccessToken, Expires: pair.AccessExpiresAt},
		"refresh": tokenPart{Token: pair.RefreshToken, Expires: pair.RefreshExpiresAt},
	})
}

// Logout revokes the presented refresh token and terminates its session.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.Logout(ctx, strings.TrimSpace(req.RefreshToken)); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// VerifyEmail consumes a verification token.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyEmailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.VerifyEmail(ctx, strings.TrimSpace(req.Token)); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
		case errors.Is(err, auth.ErrEmailAlreadyVerified):
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already verified"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "verification failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// ForgotPassword issues a reset token. The response is identical whether or
// not the address exists, to prevent account enumeration.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	token, err := h.Auth.RequestPasswordReset(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "request failed"})
	}

	body := echo.Map{"message": "if the address is registered, a reset link has been sent"}
	if h.Cfg.Env == "dev" && token != "" {
		body["reset_token"] = token
	}
	return c.JSON(http.StatusAccepted, body)
}

// ResetPassword consumes a reset token and sets the new password. All other
// sessions of the account are terminated.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token and new_password required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.ResetPassword(ctx, strings.TrimSpace(req.Token), req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reset failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// ChangePassword rotates the password for the authenticated account after
// checking the current one, terminating every session.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "current_password and new_password required"})
	}
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.ChangePassword(ctx, accountID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrPasswordMismatch):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "current password does not match"})
		case errors.Is(err, auth.ErrAccountNotFound):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "change failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated account's claims.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"account_id": middleware.AccountID(c),
		"session_id": middleware.SessionID(c),
		"role":       c.Get(middleware.CtxRole),
	})
}
