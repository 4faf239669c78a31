package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JSalazarAlt/registration-auth-service/internal/auth"
	"github.com/JSalazarAlt/registration-auth-service/internal/oauth"
)

const stateCookie = "oauth_state"

// OAuthHandler adapts the Google authorization-code flow onto the engine's
// OAuth login. It is only registered when Google credentials are configured.
type OAuthHandler struct {
	Google *oauth.GoogleClient
	Auth   *auth.Authenticator
}

func NewOAuthHandler(g *oauth.GoogleClient, a *auth.Authenticator) *OAuthHandler {
	return &OAuthHandler{Google: g, Auth: a}
}

// GoogleLogin redirects to the consent page with a random state bound to
// the client via a short-lived cookie.
func (h *OAuthHandler) GoogleLogin(c echo.Context) error {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "state generation failed"})
	}
	state := hex.EncodeToString(buf)
	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusTemporaryRedirect, h.Google.AuthURL(state))
}

// GoogleCallback validates the state, exchanges the code, and signs the
// asserted identity in through the shared account status gate.
func (h *OAuthHandler) GoogleCallback(c echo.Context) error {
	cookie, err := c.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != c.QueryParam("state") {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "state mismatch"})
	}
	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	profile, err := h.Google.Exchange(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrOAuthExchange):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "oauth2 authentication failed"})
		case errors.Is(err, auth.ErrOAuthProvider):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "oauth2 provider error"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "oauth2 login failed"})
	}

	res, err := h.Auth.LoginWithOAuth(ctx, profile, sessionMetadata(c))
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
