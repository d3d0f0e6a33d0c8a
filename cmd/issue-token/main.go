// Command issue-token mints a bearer credential for an existing user.
//
//	issue-token -user 1
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"newspaper/api/internal/app"
	"newspaper/api/internal/config"
	"newspaper/api/internal/logging"
	"newspaper/api/internal/store"
)

var userID = flag.Int64("user", 0, "id of the user the token is issued for")

func main() {
	flag.Parse()
	if *userID <= 0 {
		logging.Fatal().Msg("-user must be a positive user id")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration failed")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	service := app.New(*cfg, store.NewPostgresStore(db))
	token, expiresAt, err := service.IssueToken(ctx, *userID)
	if err != nil {
		logging.Fatal().Err(err).Int64("user_id", *userID).Msg("issue token failed")
	}

	logging.Info().Int64("user_id", *userID).Time("expires_at", expiresAt).Msg("token issued")
	fmt.Println(token)
}
