// Command apikey issues a client API key and prints its API-Key header value.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/basego/server/internal/auth"
	"github.com/basego/server/internal/db"
	"github.com/basego/server/internal/logger"
	"github.com/basego/server/internal/repo"
)

func main() {
	platform := flag.String("platform", "", "client platform: android, ios or web")
	app := flag.String("app", "", "app identifier (package name, bundle id, or web origin); empty accepts any")
	ttl := flag.Duration("ttl", 365*24*time.Hour, "key lifetime")
	flag.Parse()

	_ = godotenv.Load(".env")

	log := logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("ENV"))
	defer func() { _ = log.Sync() }()

	if *platform == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Open(ctx, os.Getenv("DATABASE_URL"), log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	key, header, err := auth.IssueAPIKey(ctx, repo.NewAPIKeyRepo(database), *platform, *app, time.Now().Add(*ttl))
	if err != nil {
		log.Fatal("failed to issue api key", zap.Error(err))
	}
	log.Info("api key issued",
		zap.String("key_id", key.KeyID),
		zap.String("platform", key.Platform),
		zap.Time("expires_at", key.ExpiresAt))

	fmt.Println(header)
}
