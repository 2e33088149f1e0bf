package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/crestline/oauth-service/internal/config"
	"github.com/crestline/oauth-service/internal/database"
	"github.com/crestline/oauth-service/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.New(pool).Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations completed")
}
