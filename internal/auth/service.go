package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/cache"
)

const pendingTTL = 5 * time.Minute

var (
	// ErrInvalidCredentials covers bad email, bad password and bad TOTP code
	// alike, so responses never reveal which part failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrSessionRevoked means the token is well-formed but its server-side
	// session no longer exists.
	ErrSessionRevoked = errors.New("auth: session revoked")
)

// Service implements the two-step login: password check issues a short-lived
// pending token, TOTP verification exchanges it for an access token backed by
// a revocable Redis session.
type Service struct {
	store      *Store
	rdb        *redis.Client
	secret     []byte
	sessionTTL time.Duration
	logger     zerolog.Logger
}

func NewService(store *Store, rdb *redis.Client, jwtSecret string, sessionTTL time.Duration, logger zerolog.Logger) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	return &Service{
		store:      store,
		rdb:        rdb,
		secret:     []byte(jwtSecret),
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// Login checks the password and returns a pending token for the TOTP step.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	admin, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrAdminNotFound) {
		// Burn comparable time so missing accounts are not distinguishable.
		_, _ = argon2id.ComparePasswordAndHash(password, fakeHash)
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	match, err := argon2id.ComparePasswordAndHash(password, admin.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("compare password: %w", err)
	}
	if !match {
		return "", ErrInvalidCredentials
	}
	pending := uuid.NewString()
	if err := s.rdb.Set(ctx, pendingKey(pending), admin.ID, pendingTTL).Err(); err != nil {
		return "", fmt.Errorf("store pending login: %w", err)
	}
	return pending, nil
}

// TokenPair is the issued access token and its expiry.
type TokenPair struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VerifyTotp completes the login. The pending token is single-use.
func (s *Service) VerifyTotp(ctx context.Context, pending, code string) (TokenPair, error) {
	adminID, err := s.rdb.GetDel(ctx, pendingKey(pending)).Result()
	if errors.Is(err, redis.Nil) {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("load pending login: %w", err)
	}
	admin, err := s.store.GetByID(ctx, adminID)
	if err != nil {
		return TokenPair{}, err
	}
	if !totp.Validate(code, admin.TOTPSecret) {
		return TokenPair{}, ErrInvalidCredentials
	}

	jti := uuid.NewString()
	expiresAt := time.Now().Add(s.sessionTTL)
	if err := s.rdb.Set(ctx, cache.AdminSession(jti), admin.ID, s.sessionTTL).Err(); err != nil {
		return TokenPair{}, fmt.Errorf("store session: %w", err)
	}
	tok, err := jwt.NewBuilder().
		Subject(admin.ID).
		JwtID(jti).
		IssuedAt(time.Now()).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return TokenPair{}, fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign token: %w", err)
	}
	s.logger.Info().Str("admin_id", admin.ID).Msg("admin_login")
	return TokenPair{Token: string(signed), ExpiresAt: expiresAt}, nil
}

// Authenticate verifies a bearer token and its server-side session, returning
// the admin id and the session id.
func (s *Service) Authenticate(ctx context.Context, token string) (adminID, sessionID string, err error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256, s.secret), jwt.WithValidate(true))
	if err != nil {
		return "", "", ErrInvalidCredentials
	}
	jti := tok.JwtID()
	if jti == "" {
		return "", "", ErrInvalidCredentials
	}
	id, err := s.rdb.Get(ctx, cache.AdminSession(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", ErrSessionRevoked
	}
	if err != nil {
		return "", "", fmt.Errorf("load session: %w", err)
	}
	if id != tok.Subject() {
		return "", "", ErrInvalidCredentials
	}
	return id, jti, nil
}

// Logout revokes the session behind the token.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, cache.AdminSession(sessionID)).Err()
}

// Me returns the authenticated admin's profile.
func (s *Service) Me(ctx context.Context, adminID string) (Admin, error) {
	return s.store.GetByID(ctx, adminID)
}

func pendingKey(token string) string {
	return "amoria:auth:pending:" + token
}

// fakeHash is a real argon2id hash of a random value, used to equalise the
// timing of failed lookups.
const fakeHash = "$argon2id$v=19$m=65536,t=1,p=2$c29tZXNhbHRzb21lc2FsdA$RdescudvJCsgt3ub+b+dWRWJTmaaJObG"
