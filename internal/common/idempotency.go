package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/amoria-lab/backend-amoria/internal/cache"
)

// Idem guards payment submission against client retries. Flaky mobile
// connections resubmit the same form; the Idempotency-Key header stops the
// duplicate before it can reach a gateway and charge twice.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// Middleware rejects a repeated Idempotency-Key with 409. Requests without
// the header pass through untouched.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		sum := sha256.Sum256([]byte(header))
		key := cache.Idempotency(hex.EncodeToString(sum[:]))
		fresh, err := i.R.SetNX(r.Context(), key, "locked", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !fresh {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		defer func() {
			// keep the key expiring even if the handler panics
			_ = i.R.Expire(context.Background(), key, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}
