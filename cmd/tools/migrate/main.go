package main

import (
	"errors"
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"github.com/amoria-lab/backend-amoria/internal/obs"
)

func main() {
	_ = godotenv.Load()

	var (
		dir  = flag.String("dir", "db/migrations", "migrations directory")
		down = flag.Bool("down", false, "roll back one migration instead of applying all")
	)
	flag.Parse()

	logger := obs.NewLogger("console", "info")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	m, err := migrate.New("file://"+*dir, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrations")
	}
	defer func() { _, _ = m.Close() }()

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Bool("down", *down).Msg("migrations complete")
}
