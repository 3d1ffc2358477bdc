package main

import (
	"context"

	"github.com/joho/godotenv"

	"server/internal/db"
	"server/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: open database failed")
	}
	defer database.Close()

	if err := db.RunMigrations(context.Background(), database); err != nil {
		logger.Fatal().Err(err).Msg("migrate: apply migrations failed")
	}
	logger.Info().Msg("migrations applied")
}
