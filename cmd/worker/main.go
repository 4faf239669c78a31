// The worker consumes account domain events and maintains the denormalized
// user-profile mirror. It runs against the profile database, which may be a
// different instance than the auth store; only the event stream connects
// the two.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JSalazarAlt/registration-auth-service/internal/config"
	"github.com/JSalazarAlt/registration-auth-service/internal/database"
	"github.com/JSalazarAlt/registration-auth-service/internal/queue"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("profile worker consuming %s (env=%s)", queue.AccountEventsQueue, cfg.Env)
	if err := queue.NewProfileConsumer(db).Start(ctx); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
