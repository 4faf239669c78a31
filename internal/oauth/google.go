// Package oauth wraps the Google OAuth2 authorization-code flow. It only
// resolves a callback code into a verified profile; account linking and the
// status gate live in the auth engine.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/JSalazarAlt/registration-auth-service/internal/auth"
)

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleClient exchanges authorization codes and fetches the userinfo
// profile for them.
type GoogleClient struct {
	config *oauth2.Config
}

// NewGoogleClient builds a client from the registered application
// credentials and redirect URL.
func NewGoogleClient(clientID, clientSecret, redirectURL string) *GoogleClient {
	return &GoogleClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthURL returns the consent-page URL for the given CSRF state.
func (c *GoogleClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the callback code for a token and fetches the profile.
// A failed code exchange is the caller's error (ErrOAuthExchange); a failed
// or malformed userinfo response is the provider's (ErrOAuthProvider).
func (c *GoogleClient) Exchange(ctx context.Context, code string) (auth.OAuthProfile, error) {
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return auth.OAuthProfile{}, fmt.Errorf("%w: %v", auth.ErrOAuthExchange, err)
	}

	resp, err := c.config.Client(ctx, tok).Get(userinfoURL)
	if err != nil {
		return auth.OAuthProfile{}, fmt.Errorf("%w: %v", auth.ErrOAuthProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.OAuthProfile{}, fmt.Errorf("%w: userinfo status %d", auth.ErrOAuthProvider, resp.StatusCode)
	}

	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return auth.OAuthProfile{}, fmt.Errorf("%w: decode userinfo: %v", auth.ErrOAuthProvider, err)
	}
	if info.ID == "" || info.Email == "" {
		return auth.OAuthProfile{}, fmt.Errorf("%w: incomplete userinfo", auth.ErrOAuthProvider)
	}

	return auth.OAuthProfile{
		Provider: "google",
		Subject:  info.ID,
		Email:    info.Email,
		Name:     info.Name,
	}, nil
}
