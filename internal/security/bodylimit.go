package security

import (
	"net/http"

	"github.com/amoria-lab/backend-amoria/internal/common"
)

// BodyLimit rejects request bodies larger than maxBytes before handlers read
// them. Gateway webhooks and admin settings payloads are small, so a tight
// cap is safe.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				common.JSONError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large", nil)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
