package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/amoria-lab/backend-amoria/internal/cache"
	"github.com/amoria-lab/backend-amoria/internal/common"
	"github.com/rs/zerolog"
)

const testJWTSecret = "test-secret-test-secret-test-secret"

func newTestAuth(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	// Token verification never touches the database, so the store stays nil.
	svc := NewService(nil, client, testJWTSecret, time.Hour, zerolog.Nop())
	return mr, client, svc
}

// issueSession plants a session in Redis and signs a matching token the way
// VerifyTotp does.
func issueSession(t *testing.T, client *redis.Client, secret, adminID string, ttl time.Duration) (string, string) {
	t.Helper()
	jti := uuid.NewString()
	require.NoError(t, client.Set(context.Background(), cache.AdminSession(jti), adminID, ttl).Err())
	tok, err := jwt.NewBuilder().
		Subject(adminID).
		JwtID(jti).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(ttl)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)
	return string(signed), jti
}

func TestAuthenticate(t *testing.T) {
	_, client, svc := newTestAuth(t)
	token, jti := issueSession(t, client, testJWTSecret, "admin-1", time.Hour)

	adminID, sessionID, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "admin-1", adminID)
	require.Equal(t, jti, sessionID)
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	_, client, svc := newTestAuth(t)
	token, _ := issueSession(t, client, "some-other-secret-entirely-wrong", "admin-1", time.Hour)

	_, _, err := svc.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateRejectsRevokedSession(t *testing.T) {
	_, client, svc := newTestAuth(t)
	token, jti := issueSession(t, client, testJWTSecret, "admin-1", time.Hour)

	require.NoError(t, svc.Logout(context.Background(), jti))
	_, _, err := svc.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestAuthenticateRejectsExpiredSession(t *testing.T) {
	mr, client, svc := newTestAuth(t)
	token, _ := issueSession(t, client, testJWTSecret, "admin-1", time.Minute)

	mr.FastForward(2 * time.Minute)
	_, _, err := svc.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestAuthenticateRejectsSubjectMismatch(t *testing.T) {
	_, client, svc := newTestAuth(t)
	token, jti := issueSession(t, client, testJWTSecret, "admin-1", time.Hour)

	// The session was reassigned somehow; the token must not be honoured.
	require.NoError(t, client.Set(context.Background(), cache.AdminSession(jti), "admin-2", time.Hour).Err())
	_, _, err := svc.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	_, client, svc := newTestAuth(t)
	jti := uuid.NewString()
	require.NoError(t, client.Set(context.Background(), cache.AdminSession(jti), "admin-1", time.Hour).Err())
	tok, err := jwt.NewBuilder().
		Subject("admin-1").
		JwtID(jti).
		IssuedAt(time.Now().Add(-2 * time.Hour)).
		Expiration(time.Now().Add(-time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(testJWTSecret)))
	require.NoError(t, err)

	_, _, err = svc.Authenticate(context.Background(), string(signed))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRequireAuth(t *testing.T) {
	_, client, svc := newTestAuth(t)
	token, _ := issueSession(t, client, testJWTSecret, "admin-1", time.Hour)

	var gotAdminID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAdminID, _ = common.AdminID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAuth(svc)(next)

	do := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/settings/telegram", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, do("").Code)
	require.Equal(t, http.StatusUnauthorized, do("Basic abc").Code)
	require.Equal(t, http.StatusUnauthorized, do("Bearer not-a-token").Code)

	rec := do("Bearer " + token)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "admin-1", gotAdminID)
}
