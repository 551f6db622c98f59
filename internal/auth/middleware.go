package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/amoria-lab/backend-amoria/internal/common"
)

// RequireAuth guards admin routes. It accepts a bearer token, verifies the
// signature and the server-side session, and stores the admin identity on the
// request context.
func RequireAuth(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			adminID, sessionID, err := svc.Authenticate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrSessionRevoked) {
					common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
					return
				}
				common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
				return
			}
			ctx := common.WithAdminID(r.Context(), adminID)
			ctx = common.WithSessionID(ctx, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
