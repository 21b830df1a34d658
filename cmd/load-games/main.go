package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"party-play/internal/config"
	"party-play/internal/db"
	"party-play/internal/logging"
)

func main() {
	dir := flag.String("dir", "games", "directory of game definition JSON files, or a single file")
	automigrate := flag.Bool("automigrate", false, "create tables with GORM before loading")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	conn, err := db.Open(cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if *automigrate {
		if err := db.Migrate(conn); err != nil {
			log.Fatal().Err(err).Msg("automigrate failed")
		}
	}

	loaded, err := db.LoadGameLibrary(conn, *dir)
	if err != nil {
		log.Fatal().Err(err).Int("loaded", loaded).Msg("failed to load games")
	}
	log.Info().Int("loaded", loaded).Str("dir", *dir).Msg("games loaded")
}
