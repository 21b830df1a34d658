package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"

	"party-play/internal/config"
	"party-play/internal/logging"
)

const migrationsDir = "db/migrations"

func main() {
	create := flag.String("create", "", "create an empty migration pair with this name and exit")
	down := flag.Bool("down", false, "roll back one migration instead of applying all")
	flag.Parse()

	logging.Setup("info", "console")
	if *create != "" {
		upPath, downPath, err := createMigration(migrationsDir, *create, time.Now().UTC())
		if err != nil {
			log.Fatal().Err(err).Msg("create migration failed")
		}
		log.Info().Str("up", upPath).Str("down", downPath).Msg("migration created")
		return
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	m, err := migrate.New("file://"+migrationsDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("migration setup failed")
	}
	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	version, dirty, _ := m.Version()
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("database migrations applied")
}

func createMigration(dir, name string, now time.Time) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", errors.New("migration name is required")
	}
	if strings.ContainsAny(name, " /\\") {
		return "", "", errors.New("migration name must not contain spaces or slashes")
	}
	base := fmt.Sprintf("%s_%s", now.Format("20060102150405"), name)
	upPath := filepath.Join(dir, base+".up.sql")
	downPath := filepath.Join(dir, base+".down.sql")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create migrations dir: %w", err)
	}
	if err := writeNew(upPath, "-- up migration\n"); err != nil {
		return "", "", err
	}
	if err := writeNew(downPath, "-- down migration\n"); err != nil {
		return "", "", err
	}
	return upPath, downPath, nil
}

func writeNew(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
