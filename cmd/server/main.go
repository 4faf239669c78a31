package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/JSalazarAlt/registration-auth-service/internal/auth"
	"github.com/JSalazarAlt/registration-auth-service/internal/config"
	"github.com/JSalazarAlt/registration-auth-service/internal/database"
	"github.com/JSalazarAlt/registration-auth-service/internal/handler"
	"github.com/JSalazarAlt/registration-auth-service/internal/oauth"
	"github.com/JSalazarAlt/registration-auth-service/internal/repository"
	"github.com/JSalazarAlt/registration-auth-service/internal/router"
	event_relay "github.com/JSalazarAlt/registration-auth-service/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; registration idempotency guard disabled")
	}

	accounts := repository.NewAccountRepo(db)
	tokens := repository.NewTokenRepo(db)
	sessions := repository.NewSessionRepo(db)
	txRunner := database.NewTxRunner(db)

	engine := auth.NewTokenEngine(tokens, accounts, txRunner, cfg.JWTSecret)
	engine.AccessTTL = minutes(cfg.AccessTTLMin)
	engine.RefreshTTL = days(cfg.RefreshTTLDays)

	sessionMgr := auth.NewSessionManager(sessions, tokens, accounts, txRunner)
	sessionMgr.SessionTTL = days(cfg.RefreshTTLDays)

	authenticator := auth.NewAuthenticator(
		accounts,
		engine,
		sessionMgr,
		auth.NewLockoutPolicy(accounts),
		auth.NewIdempotencyGuard(rdb),
		event_relay.New(),
		txRunner,
		cfg.BcryptCost,
	)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go auth.NewSweeper(tokens, sessions).Run(sweepCtx)

	e := echo.New()
	router.RegisterRoutes(e)
	authHandler := handler.NewAuthHandler(cfg, authenticator, engine, sessionMgr)
	sessionHandler := handler.NewSessionHandler(authenticator, sessionMgr)
	router.RegisterAuth(e, authHandler, sessionHandler, cfg.JWTSecret)

	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		google := oauth.NewGoogleClient(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		router.RegisterOAuth(e, handler.NewOAuthHandler(google, authenticator))
	}

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
