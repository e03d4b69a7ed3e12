package middleware

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"maestro/internal/domain"
)

var (
	ridEntropyMu sync.Mutex
	ridEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newRequestID() string {
	ridEntropyMu.Lock()
	defer ridEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ridEntropy).String()
}

// RequestID assigns each request a ULID, echoes it in the X-Request-ID
// response header, and stores it on the request context. An inbound
// X-Request-ID is preserved so callers can correlate across services.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := domain.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
