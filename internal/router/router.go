// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/JSalazarAlt/registration-auth-service/internal/handler"
	"github.com/JSalazarAlt/registration-auth-service/internal/middleware"
	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the credential lifecycle endpoints. Token issuance
// and exchange live under /v1/auth without middleware; everything that acts
// on an established identity lives under /v1 behind JWTAuth.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, s *handler.SessionHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
	g.POST("/verify-email", a.VerifyEmail)
	g.POST("/forgot-password", a.ForgotPassword)
	g.POST("/reset-password", a.ResetPassword)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(model.RoleUser, model.RoleAdmin))
	auth.Use(middleware.TouchSession(s.Sessions))
	auth.GET("/me", a.Me)
	auth.POST("/change-password", a.ChangePassword)
	auth.GET("/sessions", s.List)
	auth.DELETE("/sessions/:id", s.Terminate)
	auth.DELETE("/sessions", s.TerminateAll)
	auth.DELETE("/account", s.DeleteAccount)
	auth.PATCH("/account/username", s.UpdateUsername)
	auth.PATCH("/account/email", s.UpdateEmail)

	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.Use(middleware.TouchSession(s.Sessions))
	admin.DELETE("/accounts/:id/sessions", s.AdminTerminateAll)
}

// RegisterOAuth registers the Google sign-in endpoints. Callers skip this
// when no client credentials are configured.
func RegisterOAuth(e *echo.Echo, o *handler.OAuthHandler) {
	e.GET("/v1/auth/google/login", o.GoogleLogin)
	e.GET("/v1/auth/google/callback", o.GoogleCallback)
}
