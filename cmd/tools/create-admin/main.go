// create-admin bootstraps an admin account: it hashes the password, generates
// a TOTP secret and prints the otpauth URL to enroll an authenticator app.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/pquerna/otp/totp"

	"github.com/amoria-lab/backend-amoria/internal/auth"
	"github.com/amoria-lab/backend-amoria/internal/config"
	"github.com/amoria-lab/backend-amoria/internal/obs"
)

func main() {
	_ = godotenv.Load()

	var (
		email    = flag.String("email", "", "admin email")
		password = flag.String("password", "", "admin password")
	)
	flag.Parse()

	logger := obs.NewLogger("console", "info")
	if *email == "" || *password == "" {
		logger.Fatal().Msg("-email and -password are required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	hash, err := argon2id.CreateHash(*password, argon2id.DefaultParams)
	if err != nil {
		logger.Fatal().Err(err).Msg("hash password")
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "Amoria Admin", AccountName: *email})
	if err != nil {
		logger.Fatal().Err(err).Msg("generate totp secret")
	}

	admin := auth.Admin{
		ID:           uuid.NewString(),
		Email:        *email,
		PasswordHash: hash,
		TOTPSecret:   key.Secret(),
	}
	if err := auth.NewStore(pool).Create(ctx, admin); err != nil {
		logger.Fatal().Err(err).Msg("create admin")
	}

	logger.Info().
		Str("admin_id", admin.ID).
		Str("email", admin.Email).
		Str("otpauth_url", key.URL()).
		Msg("admin created, enroll the otpauth URL in an authenticator app")
}
